package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE:  runTenantCreate,
	}
	create.Flags().String("name", "", "display name (defaults to the id)")
	cmd.AddCommand(create)

	return cmd
}

func runTenantCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = args[0]
	}
	if err := a.store.CreateTenant(ctx, &model.Tenant{ID: args[0], Name: name}); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Tenant " + args[0] + " created"))
	return nil
}

func periodCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Manage compensation periods",
	}

	create := &cobra.Command{
		Use:   "create <key>",
		Short: "Create a period such as 2024-01",
		Long: `Create a compensation period. The key is also used as the period id,
so later commands accept either.`,
		Args: cobra.ExactArgs(1),
		RunE: runPeriodCreate,
	}
	create.Flags().String("start", "", "first day of the period (YYYY-MM-DD)")
	create.Flags().String("end", "", "last day of the period (YYYY-MM-DD)")
	_ = create.MarkFlagRequired("start")
	_ = create.MarkFlagRequired("end")
	cmd.AddCommand(create)

	return cmd
}

func runPeriodCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant, err := tenantID()
	if err != nil {
		return err
	}

	startFlag, _ := cmd.Flags().GetString("start")
	endFlag, _ := cmd.Flags().GetString("end")
	start, err := time.Parse(time.DateOnly, startFlag)
	if err != nil {
		return common.NewUserError("invalid --start date", err)
	}
	end, err := time.Parse(time.DateOnly, endFlag)
	if err != nil {
		return common.NewUserError("invalid --end date", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.store.GetTenant(ctx, tenant); err != nil {
		return err
	}
	p := &model.Period{ID: args[0], TenantID: tenant, Key: args[0], StartDate: start, EndDate: end}
	if err := a.store.SavePeriod(ctx, p); err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Period %s created (%s to %s)", p.Key, startFlag, endFlag)))
	return nil
}
