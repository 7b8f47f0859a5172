package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks HTTP to the remote market, activity and payment endpoints.
// It is the single place where transport failures become classified errors.
type Client struct {
	cfg  Config
	http *http.Client
}

// Compile-time interface checks.
var (
	_ MarketAPI   = (*Client)(nil)
	_ ActivityAPI = (*Client)(nil)
	_ PaymentAPI  = (*Client)(nil)
)

// NewClient creates a client for the configured endpoints.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		// No global timeout: long-poll endpoints bound their own waits and
		// everything else is bounded by the caller's context.
		http: &http.Client{},
	}
}

// do performs one API call. A non-2xx status is classified exactly once via
// kindForStatus; transport-level failures become the remote kind.
func (c *Client) do(ctx context.Context, op, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AppKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NewError(ErrorKindRemote, op, 0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(ErrorKindRemote, op, resp.StatusCode, "", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewError(kindForStatus(resp.StatusCode), op, resp.StatusCode, remoteMessage(raw), nil)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewError(ErrorKindRemote, op, resp.StatusCode, "undecodable response body", err)
		}
	}
	return nil
}

func remoteMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(raw)
}

func (c *Client) marketURL(parts ...string) string {
	return joinURL(c.cfg.MarketURL, parts...)
}

func (c *Client) activityURL(parts ...string) string {
	return joinURL(c.cfg.ActivityURL, parts...)
}

func (c *Client) paymentURL(parts ...string) string {
	return joinURL(c.cfg.PaymentURL, parts...)
}

func joinURL(base string, parts ...string) string {
	u := base
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// Market API

// SubscribeDemand publishes a demand and returns its id.
func (c *Client) SubscribeDemand(ctx context.Context, properties map[string]any, constraints string) (string, error) {
	body := map[string]any{"properties": properties, "constraints": constraints}
	var id string
	if err := c.do(ctx, "subscribeDemand", http.MethodPost, c.marketURL("demands"), body, &id); err != nil {
		return "", err
	}
	return id, nil
}

// UnsubscribeDemand withdraws a published demand.
func (c *Client) UnsubscribeDemand(ctx context.Context, demandID string) error {
	return c.do(ctx, "unsubscribeDemand", http.MethodDelete, c.marketURL("demands", demandID), nil, nil)
}

// ListDemands returns all demands published by this requestor.
func (c *Client) ListDemands(ctx context.Context) ([]DemandData, error) {
	var demands []DemandData
	if err := c.do(ctx, "listDemands", http.MethodGet, c.marketURL("demands"), nil, &demands); err != nil {
		return nil, err
	}
	return demands, nil
}

// GetProposal fetches the current snapshot of a proposal.
func (c *Client) GetProposal(ctx context.Context, demandID, proposalID string) (*ProposalData, error) {
	var data ProposalData
	u := c.marketURL("demands", demandID, "proposals", proposalID)
	if err := c.do(ctx, "getProposal", http.MethodGet, u, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CollectProposalEvents polls for market events on a subscribed demand.
func (c *Client) CollectProposalEvents(ctx context.Context, demandID string, timeout time.Duration, maxEvents int) ([]ProposalEvent, error) {
	u := c.marketURL("demands", demandID, "events")
	u += "?timeout=" + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	u += "&maxEvents=" + strconv.Itoa(maxEvents)

	var events []ProposalEvent
	if err := c.do(ctx, "collectProposalEvents", http.MethodGet, u, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CounterProposal submits a counter-offer and returns the new proposal id.
func (c *Client) CounterProposal(ctx context.Context, demandID, proposalID string, properties map[string]any, constraints string) (string, error) {
	body := map[string]any{"properties": properties, "constraints": constraints}
	u := c.marketURL("demands", demandID, "proposals", proposalID)
	var id string
	if err := c.do(ctx, "counterProposal", http.MethodPost, u, body, &id); err != nil {
		return "", err
	}
	return id, nil
}

// RejectProposal notifies the remote side that a proposal is rejected.
func (c *Client) RejectProposal(ctx context.Context, demandID, proposalID, reason string) error {
	body := map[string]string{"message": reason}
	u := c.marketURL("demands", demandID, "proposals", proposalID, "reject")
	return c.do(ctx, "rejectProposal", http.MethodPost, u, body, nil)
}

// CreateAgreement issues an agreement request bound to a validity deadline.
func (c *Client) CreateAgreement(ctx context.Context, proposalID string, validTo time.Time) (string, error) {
	body := map[string]any{"proposalId": proposalID, "validTo": validTo.Format(time.RFC3339)}
	var id string
	if err := c.do(ctx, "createAgreement", http.MethodPost, c.marketURL("agreements"), body, &id); err != nil {
		return "", err
	}
	return id, nil
}

// ConfirmAgreement sends the requestor-side confirmation signal.
func (c *Client) ConfirmAgreement(ctx context.Context, agreementID string) error {
	u := c.marketURL("agreements", agreementID, "confirm")
	return c.do(ctx, "confirmAgreement", http.MethodPost, u, nil, nil)
}

// WaitForApproval blocks until the provider decides or the wait window elapses.
func (c *Client) WaitForApproval(ctx context.Context, agreementID string, timeout time.Duration) error {
	u := c.marketURL("agreements", agreementID, "wait")
	u += "?timeout=" + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	return c.do(ctx, "waitForApproval", http.MethodPost, u, nil, nil)
}

// TerminateAgreement ends an agreement with a reason.
func (c *Client) TerminateAgreement(ctx context.Context, agreementID, reason string) error {
	body := map[string]string{"message": reason}
	u := c.marketURL("agreements", agreementID, "terminate")
	return c.do(ctx, "terminateAgreement", http.MethodPost, u, body, nil)
}

// GetAgreement fetches the current snapshot of an agreement.
func (c *Client) GetAgreement(ctx context.Context, agreementID string) (*AgreementData, error) {
	var data AgreementData
	if err := c.do(ctx, "getAgreement", http.MethodGet, c.marketURL("agreements", agreementID), nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Activity API

// CreateActivity opens an executable session on the agreement's provider.
func (c *Client) CreateActivity(ctx context.Context, agreementID string) (string, error) {
	body := map[string]string{"agreementId": agreementID}
	var id string
	if err := c.do(ctx, "createActivity", http.MethodPost, c.activityURL("activity"), body, &id); err != nil {
		return "", err
	}
	return id, nil
}

// GetActivity fetches the current snapshot of an activity.
func (c *Client) GetActivity(ctx context.Context, activityID string) (*ActivityData, error) {
	var data ActivityData
	if err := c.do(ctx, "getActivity", http.MethodGet, c.activityURL("activity", activityID), nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Exec submits an ordered command batch and returns its batch id.
func (c *Client) Exec(ctx context.Context, activityID string, batch []ExeCommand) (string, error) {
	u := c.activityURL("activity", activityID, "exec")
	var id string
	if err := c.do(ctx, "exec", http.MethodPost, u, batch, &id); err != nil {
		return "", err
	}
	return id, nil
}

// GetExecBatchResults polls for batch results gathered so far.
func (c *Client) GetExecBatchResults(ctx context.Context, activityID, batchID string, timeout time.Duration) ([]ExeResult, error) {
	u := c.activityURL("activity", activityID, "exec", batchID)
	u += "?timeout=" + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)

	var results []ExeResult
	if err := c.do(ctx, "getExecBatchResults", http.MethodGet, u, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// DestroyActivity closes the executable session.
func (c *Client) DestroyActivity(ctx context.Context, activityID string) error {
	return c.do(ctx, "destroyActivity", http.MethodDelete, c.activityURL("activity", activityID), nil, nil)
}

// Payment API

// CreateAllocation reserves funds on a matching requestor account.
func (c *Client) CreateAllocation(ctx context.Context, spec AllocationSpec) (*AllocationData, error) {
	body := map[string]any{
		"totalAmount":     spec.TotalAmount,
		"makeDeposit":     spec.MakeDeposit,
		"paymentPlatform": PaymentPlatform(spec.PaymentDriver, spec.PaymentNetwork),
	}
	if !spec.Timeout.IsZero() {
		body["timeout"] = spec.Timeout.Format(time.RFC3339)
	}

	var data AllocationData
	if err := c.do(ctx, "createAllocation", http.MethodPost, c.paymentURL("allocations"), body, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAllocation fetches the current snapshot of an allocation.
func (c *Client) GetAllocation(ctx context.Context, allocationID string) (*AllocationData, error) {
	var data AllocationData
	u := c.paymentURL("allocations", allocationID)
	if err := c.do(ctx, "getAllocation", http.MethodGet, u, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ListAllocations returns all live allocations.
func (c *Client) ListAllocations(ctx context.Context) ([]AllocationData, error) {
	var allocations []AllocationData
	if err := c.do(ctx, "listAllocations", http.MethodGet, c.paymentURL("allocations"), nil, &allocations); err != nil {
		return nil, err
	}
	return allocations, nil
}

// ReleaseAllocation returns the reserved funds.
func (c *Client) ReleaseAllocation(ctx context.Context, allocationID string) error {
	return c.do(ctx, "releaseAllocation", http.MethodDelete, c.paymentURL("allocations", allocationID), nil, nil)
}

// PaymentPlatform composes the payment platform tag from driver and network.
func PaymentPlatform(driver, network string) string {
	return driver + "-" + network + "-glm"
}
