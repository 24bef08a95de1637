package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/model"
	"github.com/glorpus-work/modkit/pkg/planner"
)

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	var (
		noValidate bool
		noFetch    bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "install PLAN",
		Short: "Install the selected components of a plan",
		Long: `Download component resources, validate the plan and install every selected
component in order. Nothing is touched when validation finds errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, args[0], noValidate, noFetch, quiet)
		},
	}

	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip the dry run before installing")
	cmd.Flags().BoolVar(&noFetch, "no-fetch", false, "Do not download component resources")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress events")

	return cmd
}

func runInstall(cmd *cobra.Command, planPath string, noValidate, noFetch, quiet bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plan, err := model.LoadPlan(planPath)
	if err != nil {
		return err
	}
	ctx := contextOrBackground(cmd.Context())
	if !noFetch {
		if err := stageResources(ctx, cfg, plan); err != nil {
			return err
		}
	}

	hooks := planner.Hooks{}
	if !quiet {
		hooks.OnEvent = printEvent
	}
	eng, err := newEngine(cfg, hooks)
	if err != nil {
		return err
	}
	validator := eng.validator
	if noValidate {
		validator = nil
	}

	installer := planner.NewInstaller(eng.exec, eng.real, validator, eng.opts)
	report, err := installer.Install(ctx, plan)
	if report != nil && (err != nil || len(report.Issues) > 0) {
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return fmt.Errorf("failed to install plan: %w", err)
	}
	if len(report.Failed) > 0 {
		return errors.Wrapf(errors.ErrInstallFailed, "%d of %d: %v", len(report.Failed), len(plan.Selected()), report.Failed)
	}
	logger.Success("Plan installed", logger.Fields{"components": len(plan.Selected())})
	return nil
}
