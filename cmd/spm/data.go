package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/ingest"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Import rosters and performance data",
	}

	roster := &cobra.Command{
		Use:   "roster <file>",
		Short: "Import the entity roster (CSV, JSON or YAML)",
		Long: `Import entities from a roster file. Columns other than the id, name
and store columns are kept as attributes. Re-importing updates entities in
place.`,
		Args: cobra.ExactArgs(1),
		RunE: runDataRoster,
	}
	roster.Flags().String("id-column", ingest.DefaultEntityColumn, "column holding the external id")
	roster.Flags().String("name-column", ingest.DefaultNameColumn, "column holding the display name")
	roster.Flags().String("group-column", ingest.DefaultGroupColumn, "column holding the store or team key")
	roster.Flags().StringSlice("assign", nil, "rule set ids to assign every entity to")
	roster.Flags().String("variant-column", "", "column pinning each entity's plan variant")
	cmd.AddCommand(roster)

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Import performance rows for a period",
		Args:  cobra.ExactArgs(1),
		RunE:  runDataImport,
	}
	imp.Flags().String("period", "", "period key or id")
	imp.Flags().String("type", "", "data type of the rows, e.g. optical_sales")
	imp.Flags().String("entity-column", ingest.DefaultEntityColumn, "column matching roster external ids")
	imp.Flags().String("group-column", ingest.DefaultGroupColumn, "column holding the store or team key")
	imp.Flags().Bool("replace", false, "delete earlier rows of the same period and type first")
	_ = imp.MarkFlagRequired("period")
	_ = imp.MarkFlagRequired("type")
	cmd.AddCommand(imp)

	return cmd
}

func runDataRoster(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant, err := tenantID()
	if err != nil {
		return err
	}
	records, err := readFile(args[0])
	if err != nil {
		return err
	}

	opts := ingest.EntityOptions{TenantID: tenant}
	opts.IDColumn, _ = cmd.Flags().GetString("id-column")
	opts.NameColumn, _ = cmd.Flags().GetString("name-column")
	opts.GroupColumn, _ = cmd.Flags().GetString("group-column")
	entities, err := ingest.Entities(records, opts)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.store.GetTenant(ctx, tenant); err != nil {
		return err
	}
	if err := a.store.SaveEntities(ctx, entities); err != nil {
		return fmt.Errorf("failed to save entities: %w", err)
	}

	ruleSets, _ := cmd.Flags().GetStringSlice("assign")
	variantColumn, _ := cmd.Flags().GetString("variant-column")
	var assignments []model.Assignment
	for _, rsID := range ruleSets {
		if _, err := a.store.GetRuleSet(ctx, tenant, rsID); err != nil {
			return err
		}
		// Entities preserves record order.
		for i, e := range entities {
			as := model.Assignment{TenantID: tenant, RuleSetID: rsID, EntityID: e.ID}
			if variantColumn != "" {
				as.VariantKey = records[i].String(variantColumn)
			}
			assignments = append(assignments, as)
		}
	}
	if len(assignments) > 0 {
		if err := a.store.SaveAssignments(ctx, assignments); err != nil {
			return fmt.Errorf("failed to save assignments: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d entities, %d assignments", len(entities), len(assignments))))
	return nil
}

func runDataImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant, err := tenantID()
	if err != nil {
		return err
	}
	records, err := readFile(args[0])
	if err != nil {
		return err
	}

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
	entities, err := a.store.ListEntities(ctx, tenant)
	if err != nil {
		return err
	}

	opts := ingest.RowOptions{TenantID: tenant, PeriodID: period.ID}
	opts.DataType, _ = cmd.Flags().GetString("type")
	opts.EntityColumn, _ = cmd.Flags().GetString("entity-column")
	opts.GroupColumn, _ = cmd.Flags().GetString("group-column")
	mapped, err := ingest.Rows(records, entities, opts)
	if err != nil {
		return err
	}
	if len(mapped.Unknown) > 0 {
		slog.Warn("Skipped rows for entities missing from the roster",
			"count", len(mapped.Unknown), "external_ids", strings.Join(mapped.Unknown, ","))
	}

	if replace, _ := cmd.Flags().GetBool("replace"); replace {
		deleted, err := a.store.DeleteRawData(ctx, tenant, period.ID, opts.DataType)
		if err != nil {
			return err
		}
		slog.Info("Replaced earlier rows", "data_type", opts.DataType, "deleted", deleted)
	}
	if len(mapped.Rows) > 0 {
		if err := a.store.SaveRawData(ctx, mapped.Rows); err != nil {
			return fmt.Errorf("failed to save rows: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d %s rows into %s", len(mapped.Rows), opts.DataType, period.Key)))
	return nil
}
