package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/plan"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage compensation plans",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a plan document (JSON or YAML)",
		Long: `Validate a plan document against the rule set schema and store it.
Importing a plan with an existing id replaces it.`,
		Args: cobra.ExactArgs(1),
		RunE: runPlanImport,
	}
	importCmd.Flags().String("id", "", "rule set id (overrides the document)")
	cmd.AddCommand(importCmd)

	return cmd
}

func runPlanImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant, err := tenantID()
	if err != nil {
		return err
	}

	format, err := plan.FormatFromPath(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open plan: %w", err)
	}
	defer func() { _ = f.Close() }()

	rs, err := plan.Load(f, format)
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("id"); id != "" {
		rs.ID = id
	}
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	rs.TenantID = tenant

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.store.GetTenant(ctx, tenant); err != nil {
		return err
	}
	if err := a.store.SaveRuleSet(ctx, rs); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	components := 0
	for _, v := range rs.Variants {
		components += len(v.Components)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Plan %q imported as %s (%d variants, %d components)",
		rs.Name, rs.ID, len(rs.Variants), components)))
	return nil
}
