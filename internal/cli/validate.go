package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/planner"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	var fetch bool

	cmd := &cobra.Command{
		Use:   "validate PLAN",
		Short: "Dry-run an installation plan",
		Long: `Simulate every selected component of a plan against the mod and game
directories and report every problem found. Nothing on disk is changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], fetch)
		},
	}

	cmd.Flags().BoolVar(&fetch, "fetch", false, "Download component resources before validating")

	return cmd
}

func runValidate(cmd *cobra.Command, planPath string, fetch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plan, err := model.LoadPlan(planPath)
	if err != nil {
		return err
	}
	ctx := contextOrBackground(cmd.Context())
	if fetch {
		if err := stageResources(ctx, cfg, plan); err != nil {
			return err
		}
	}

	eng, err := newEngine(cfg, planner.Hooks{})
	if err != nil {
		return err
	}
	report, err := eng.validator.Validate(ctx, plan)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	if !report.Valid {
		return errors.Wrapf(errors.ErrValidationFailed, "%d errors", len(report.Errors()))
	}
	return nil
}

func printReport(w io.Writer, report *planner.Report) {
	for _, issue := range report.Issues {
		_, _ = fmt.Fprintln(w, issue.String())
	}
	_, _ = fmt.Fprintf(w, "%d errors, %d warnings\n", len(report.Errors()), len(report.Warnings()))
}
