package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/calculation"
	"github.com/CCAFRICA/spm-platform/internal/cli"
)

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Run a plan for every assigned entity in a period",
		Long: `Evaluate a plan against the period's imported data and post the results,
with an execution trace per component, as a new calculation batch.`,
		RunE: runCalculate,
	}
	cmd.Flags().String("period", "", "period key or id")
	cmd.Flags().String("rule-set", "", "rule set id")
	cmd.Flags().Bool("json", false, "print the run as JSON, traces included")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("rule-set")
	return cmd
}

func runCalculate(cmd *cobra.Command, _ []string) error {
	tenant, err := tenantID()
	if err != nil {
		return err
	}

	handler := cli.NewInterruptHandler(os.Stderr)
	ctx := handler.HandleInterrupts(cmd.Context(), "Calculation")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	periodRef, _ := cmd.Flags().GetString("period")
	period, err := a.resolvePeriod(ctx, tenant, periodRef)
	if err != nil {
		return err
	}
	ruleSetID, _ := cmd.Flags().GetString("rule-set")
	asJSON, _ := cmd.Flags().GetBool("json")

	opts := anomaly.Options{
		StdDevThreshold:   a.settings.Anomaly.StdDevThreshold,
		IdenticalMinCount: a.settings.Anomaly.IdenticalMinCount,
	}
	engine := calculation.NewEngine(a.store, a.sink, a.settings.Calculation, opts)

	req := calculation.Request{TenantID: tenant, PeriodID: period.ID, RuleSetID: ruleSetID}
	var progress *cli.Progress
	if !asJSON {
		progress = cli.NewProgress(os.Stderr, "Calculating")
		req.Progress = progress.Update
	}

	run, err := engine.Run(ctx, req)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		if handler.WasInterrupted() {
			return errReported
		}
		return err
	}
	a.flushSignals(ctx, tenant)

	if asJSON {
		err = printJSON(cmd.OutOrStdout(), run)
	} else {
		err = cli.RenderRun(cmd.OutOrStdout(), run)
		if err == nil && run.Anomalies != nil && len(run.Anomalies.Anomalies) > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
			err = cli.RenderAnomalies(cmd.OutOrStdout(), *run.Anomalies)
		}
	}
	if err != nil {
		return err
	}
	if !run.Success {
		return errReported
	}
	return nil
}
