package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/resolution"
)

func disputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispute",
		Short: "File payout disputes",
	}

	open := &cobra.Command{
		Use:   "open",
		Short: "Open a dispute against a posted result",
		RunE:  runDisputeOpen,
	}
	addDisputeFlags(open)
	cmd.AddCommand(open)

	return cmd
}

// addDisputeFlags registers the flags shared by dispute open and investigate.
func addDisputeFlags(cmd *cobra.Command) {
	cmd.Flags().String("batch", "", "calculation batch id")
	cmd.Flags().String("entity", "", "entity external id or id")
	cmd.Flags().String("component", "", "disputed component (default: the whole payout)")
	cmd.Flags().String("amount", "", "amount the entity believes it is owed")
	cmd.Flags().String("category", "", "dispute category (default: payout)")
	cmd.Flags().String("description", "", "the entity's description of the problem")
}

// disputeRequest builds a request from the shared dispute flags.
func (a *app) disputeRequest(cmd *cobra.Command, tenant string) (resolution.DisputeRequest, error) {
	req := resolution.DisputeRequest{TenantID: tenant}
	req.BatchID, _ = cmd.Flags().GetString("batch")
	req.Component, _ = cmd.Flags().GetString("component")
	req.Category, _ = cmd.Flags().GetString("category")
	req.Description, _ = cmd.Flags().GetString("description")

	if amount, _ := cmd.Flags().GetString("amount"); amount != "" {
		d, err := money.New(amount)
		if err != nil {
			return req, common.NewUserError("invalid --amount", err)
		}
		req.AmountDisputed = d
	}
	if ref, _ := cmd.Flags().GetString("entity"); ref != "" {
		id, err := a.resolveEntity(cmd.Context(), tenant, ref)
		if err != nil {
			return req, err
		}
		req.EntityID = id
	}
	return req, nil
}

func runDisputeOpen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	tenant, err := tenantID()
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.disputeRequest(cmd, tenant)
	if err != nil {
		return err
	}
	svc := resolution.NewService(a.store, a.loader, resolution.NewAgent(a.writer, a.settings.Resolution))
	d, err := svc.Open(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Dispute "+d.ID+" opened"))
	return nil
}
