package session

import (
	"context"
	"strings"
	"time"

	"github.com/gridnode/gridnode/pkg/payment"
)

// Demand property and constraint keys.
const (
	// PropExpiration is the demand expiration timestamp in unix
	// milliseconds.
	PropExpiration = "grid.srv.comp.expiration"

	// PropSubnet tags the demand with its subnet.
	PropSubnet = "grid.node.subnet"

	// PropRuntime names the execution runtime providers must offer.
	PropRuntime = "grid.runtime.name"
)

// defaultDemandTTL is how long a published demand stays valid.
const defaultDemandTTL = 30 * time.Minute

// DemandBuilder assembles the property map and constraint expression of a
// demand.
type DemandBuilder struct {
	props       map[string]any
	constraints []string
}

// NewDemandBuilder returns an empty builder.
func NewDemandBuilder() *DemandBuilder {
	return &DemandBuilder{props: make(map[string]any)}
}

// Property sets one demand property.
func (b *DemandBuilder) Property(key string, value any) *DemandBuilder {
	b.props[key] = value
	return b
}

// Constraint adds one constraint clause, e.g. "(grid.runtime.name=wasm)".
func (b *DemandBuilder) Constraint(clause string) *DemandBuilder {
	b.constraints = append(b.constraints, clause)
	return b
}

// Runtime requires providers to offer the named runtime.
func (b *DemandBuilder) Runtime(name string) *DemandBuilder {
	b.Property(PropRuntime, name)
	return b.Constraint("(" + PropRuntime + "=" + name + ")")
}

// Defaults adds the expiration deadline and subnet tag every demand
// carries.
func (b *DemandBuilder) Defaults(subnet string) *DemandBuilder {
	b.Property(PropExpiration, time.Now().Add(defaultDemandTTL).UnixMilli())
	b.Property(PropSubnet, subnet)
	return b.Constraint("(" + PropSubnet + "=" + subnet + ")")
}

// Allocation merges the payment properties and constraint an allocation
// imposes on the demand.
func (b *DemandBuilder) Allocation(ctx context.Context, alloc *payment.Allocation) error {
	props, constraint, err := alloc.DemandProperties(ctx)
	if err != nil {
		return err
	}
	for k, v := range props {
		b.props[k] = v
	}
	b.Constraint(constraint)
	return nil
}

// Build returns the assembled properties and the flattened constraint
// expression.
func (b *DemandBuilder) Build() (map[string]any, string) {
	props := make(map[string]any, len(b.props))
	for k, v := range b.props {
		props[k] = v
	}

	var constraints string
	switch len(b.constraints) {
	case 0:
		constraints = "()"
	case 1:
		constraints = b.constraints[0]
	default:
		constraints = "(&" + strings.Join(b.constraints, "") + ")"
	}
	return props, constraints
}
