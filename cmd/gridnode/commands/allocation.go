package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridnode/gridnode/pkg/payment"
)

func newAllocationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocation",
		Short: "Manage funding allocations",
	}
	cmd.AddCommand(newAllocationListCommand())
	cmd.AddCommand(newAllocationNewCommand())
	cmd.AddCommand(newAllocationCleanCommand())
	return cmd
}

func newAllocationListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live allocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Stop(ctx)

			allocations, err := sess.Allocations(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				var out []map[string]any
				for _, a := range allocations {
					entry := map[string]any{"id": a.ID()}
					if data := a.AllocationData(); data != nil {
						entry["platform"] = data.PaymentPlatform
						entry["total"] = data.TotalAmount
						entry["remaining"] = data.RemainingAmount
					}
					out = append(out, entry)
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPLATFORM\tTOTAL\tREMAINING")
			for _, a := range allocations {
				data := a.AllocationData()
				if data == nil {
					fmt.Fprintf(w, "%s\t\t\t\n", a.ID())
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					a.ID(), data.PaymentPlatform, data.TotalAmount, data.RemainingAmount)
			}
			return w.Flush()
		},
	}
}

func newAllocationNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new AMOUNT",
		Short: "Reserve funds for agreements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Stop(ctx)

			// Created directly so the allocation survives session
			// teardown; clean releases it later.
			api := sess.Config().API
			alloc, err := payment.CreateAllocation(ctx, sess, args[0], api.PaymentDriver, api.PaymentNetwork)
			if err != nil {
				return err
			}
			fmt.Println(alloc.ID())
			return nil
		},
	}
}

func newAllocationCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Release every live allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Stop(ctx)

			allocations, err := sess.Allocations(ctx)
			if err != nil {
				return err
			}
			for _, a := range allocations {
				if err := a.Release(ctx); err != nil {
					return err
				}
				fmt.Println(a.ID())
			}
			return nil
		},
	}
}
