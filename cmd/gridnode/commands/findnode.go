package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridnode/gridnode/pkg/session"
	"github.com/gridnode/gridnode/pkg/strategy"
)

func newFindNodeCommand() *cobra.Command {
	var (
		runtime string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "find-node",
		Short: "Publish a demand and stream the provider offers it draws",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cancel := func() {}
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()

			sess, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Stop(cmd.Context())

			scorer := strategy.NewDecreaseScoreForUnconfirmed(
				strategy.LeastExpensive{MissingPriceScore: -1}, 0.5)
			scorer.Attach(ctx, sess.Bus())

			builder := session.NewDemandBuilder().Runtime(runtime)
			demand, err := sess.CreateDemand(ctx, builder)
			if err != nil {
				return err
			}
			demand.StartCollectingEvents(ctx)

			for p := range demand.InitialProposals(ctx) {
				score, err := scorer.Score(ctx, p.ProposalData())
				if err != nil {
					score = 0
				}
				if jsonOutput {
					entry := map[string]any{
						"proposal_id": p.ID(),
						"issuer_id":   p.IssuerID(),
						"score":       score,
					}
					if data := p.ProposalData(); data != nil {
						entry["properties"] = data.Properties
					}
					if err := json.NewEncoder(os.Stdout).Encode(entry); err != nil {
						return err
					}
					continue
				}
				fmt.Printf("%s\t%s\t%.3f\n", p.ID(), p.IssuerID(), score)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runtime, "runtime", "wasm", "runtime providers must offer")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to collect offers (0 for unbounded)")
	return cmd
}
