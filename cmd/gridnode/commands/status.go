package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the requestor's demands and allocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Stop(ctx)

			demands, err := sess.Demands(ctx)
			if err != nil {
				return err
			}
			allocations, err := sess.Allocations(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := map[string]any{
					"demands":     len(demands),
					"allocations": len(allocations),
				}
				var ids []string
				for _, d := range demands {
					ids = append(ids, d.ID())
				}
				out["demand_ids"] = ids
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tID\tDETAIL")
			for _, d := range demands {
				fmt.Fprintf(w, "demand\t%s\t\n", d.ID())
			}
			for _, a := range allocations {
				detail := ""
				if data := a.AllocationData(); data != nil {
					detail = fmt.Sprintf("%s remaining of %s", data.RemainingAmount, data.TotalAmount)
				}
				fmt.Fprintf(w, "allocation\t%s\t%s\n", a.ID(), detail)
			}
			w.Flush()

			if history > 0 {
				if sess.Journal() == nil {
					return fmt.Errorf("no journal configured, set journal_path")
				}
				entries, err := sess.Journal().Entries(ctx, history)
				if err != nil {
					return err
				}
				fmt.Println()
				for _, e := range entries {
					fmt.Printf("%s  %-20s %s/%s %s\n",
						e.At.Format("2006-01-02 15:04:05"), e.Event, e.ResourceKind, e.ResourceID, e.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "also show the last N journal entries")
	return cmd
}
