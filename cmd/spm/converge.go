package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/cli"
	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/convergence"
)

func convergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Bind plan metrics to imported data fields",
		Long: `Match every metric a plan requires to a field of the imported data and
store the derivations on the plan. Without --rule-set every active plan of
the tenant is converged.`,
		RunE: runConverge,
	}
	cmd.Flags().String("rule-set", "", "rule set id (default: every active rule set)")
	cmd.Flags().String("period", "", "period key or id to sample data from")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	return cmd
}

func runConverge(cmd *cobra.Command, _ []string) error {
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

	periodID := ""
	if ref, _ := cmd.Flags().GetString("period"); ref != "" {
		p, err := a.resolvePeriod(ctx, tenant, ref)
		if err != nil {
			return err
		}
		periodID = p.ID
	}

	svc := convergence.NewService(a.store, a.ai, a.sink, a.settings.Convergence)
	asJSON, _ := cmd.Flags().GetBool("json")

	var results []*convergence.Result
	success := true
	if ruleSetID, _ := cmd.Flags().GetString("rule-set"); ruleSetID != "" {
		result, err := svc.Converge(ctx, convergence.Request{TenantID: tenant, RuleSetID: ruleSetID, PeriodID: periodID})
		if err != nil {
			return err
		}
		results = append(results, result)
		success = result.Success
	} else {
		summary, err := svc.ConvergeAll(ctx, tenant, periodID)
		if err != nil {
			return err
		}
		if summary.Error != "" {
			return common.NewUserError(summary.Error, nil)
		}
		if asJSON {
			a.flushSignals(ctx, tenant)
			return printJSON(cmd.OutOrStdout(), summary)
		}
		results = summary.Reports
		success = summary.Success
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No active rule sets"))
		}
	}
	a.flushSignals(ctx, tenant)

	if asJSON {
		if err := printJSON(cmd.OutOrStdout(), results[0]); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if err := cli.RenderConvergence(cmd.OutOrStdout(), r); err != nil {
				return err
			}
		}
	}
	if !success {
		return errReported
	}
	return nil
}
