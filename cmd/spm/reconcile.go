package main

import (

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/ingest"
	"github.com/CCAFRICA/spm-platform/internal/reconciliation"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <batch-id>",
		Short: "Compare a calculation batch with a benchmark file",
		Long: `Compare every result of a batch, per component and in total, with the
payouts in a benchmark file and classify each difference.

The benchmark file is either long (entity, component, amount columns, an
empty component meaning the total) or wide (one numeric column per
component plus an optional "total" column).`,
		Args: cobra.ExactArgs(1),
		RunE: runReconcile,
	}
	cmd.Flags().String("benchmarks", "", "benchmark file (CSV, JSON or YAML)")
	cmd.Flags().String("entity-column", ingest.DefaultEntityColumn, "column holding the external id")
	cmd.Flags().String("component-column", ingest.DefaultComponentColumn, "component column of a long file")
	cmd.Flags().String("amount-column", ingest.DefaultAmountColumn, "amount column of a long file")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("benchmarks")
	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant, err := tenantID()
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("benchmarks")
	records, err := readFile(path)
	if err != nil {
		return err
	}
	var opts ingest.BenchmarkOptions
	opts.EntityColumn, _ = cmd.Flags().GetString("entity-column")
	opts.ComponentColumn, _ = cmd.Flags().GetString("component-column")
	opts.AmountColumn, _ = cmd.Flags().GetString("amount-column")
	benchmarks, err := ingest.Benchmarks(records, opts)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	agent := reconciliation.NewAgent(a.writer, a.settings.Reconciliation, a.settings.Resolution.RepeatedCorrectionMin)
	svc := reconciliation.NewService(a.store, a.loader, agent)
	report, err := svc.Reconcile(ctx, reconciliation.Request{TenantID: tenant, BatchID: args[0], Benchmarks: benchmarks})
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		err = printJSON(cmd.OutOrStdout(), report)
	} else {
		err = cli.RenderReconciliation(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	if !report.Success {
		return errReported
	}
	return nil
}
