package main

import (

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/resolution"
)

func investigateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "investigate [dispute-id]",
		Short: "Investigate a payout dispute",
		Long: `Investigate a dispute by replaying the execution traces of the disputed
result against the agent's memory, then record the verdict on the dispute.

Pass a dispute id, or --batch and --entity to file and investigate a new
dispute in one step.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInvestigate,
	}
	addDisputeFlags(cmd)
	cmd.Flags().Bool("json", false, "print the outcome as JSON")
	return cmd
}

func runInvestigate(cmd *cobra.Command, args []string) error {
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
	if len(args) == 1 {
		req.DisputeID = args[0]
	}

	svc := resolution.NewService(a.store, a.loader, resolution.NewAgent(a.writer, a.settings.Resolution))
	out, err := svc.InvestigateDispute(ctx, req)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		err = printJSON(cmd.OutOrStdout(), out)
	} else {
		err = cli.RenderInvestigation(cmd.OutOrStdout(), out)
	}
	if err != nil {
		return err
	}
	if !out.Success {
		return errReported
	}
	return nil
}
