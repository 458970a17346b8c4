package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

func anomaliesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomalies <batch-id>",
		Short: "Show the anomaly report stored on a calculation batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnomalies,
	}
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}

func runAnomalies(cmd *cobra.Command, args []string) error {
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

	batch, err := a.store.GetBatch(ctx, tenant, args[0])
	if err != nil {
		return err
	}
	raw, ok := batch.Config[model.BatchConfigAnomalies]
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No anomaly report stored for batch " + batch.ID))
		return nil
	}

	var report anomaly.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return fmt.Errorf("failed to decode anomaly report: %w", err)
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}
	return cli.RenderAnomalies(cmd.OutOrStdout(), report)
}
