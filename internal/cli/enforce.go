package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veriton/trustgraph/internal/integration"
)

// EnforceReport wraps a boundary report for output rendering.
type EnforceReport struct {
	*integration.BoundaryReport
}

// String renders the report for text output.
func (r EnforceReport) String() string {
	var b strings.Builder
	for _, res := range r.Results {
		verdict := "PASS"
		if !res.Enforced {
			verdict = "FAIL"
		}
		fmt.Fprintf(&b, "%s %s: %s (score=%.2f required=%.2f)\n",
			verdict, res.BoundaryID, res.Reason, res.EntityScore, res.RequiredScore)
	}
	if r.Verified {
		fmt.Fprintf(&b, "%s: all boundaries enforced", r.EntityID)
	} else {
		fmt.Fprintf(&b, "%s: %s", r.EntityID, r.FailureReasons)
	}
	return b.String()
}

// NewEnforceCommand creates the enforce command.
func NewEnforceCommand(rootOpts *RootOptions) *cobra.Command {
	var boundaryID string

	cmd := &cobra.Command{
		Use:   "enforce <config.yaml> <entity-id>",
		Short: "Enforce trust boundaries against an entity",
		Long: `Build the trust graph from the config, then enforce boundaries against
the named entity. By default every registered boundary is checked; use
--boundary to check a single one.

Exits 1 if any checked boundary fails.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnforce(rootOpts, args[0], args[1], boundaryID, cmd)
		},
	}
	cmd.Flags().StringVar(&boundaryID, "boundary", "", "check a single boundary by id")
	return cmd
}

func runEnforce(opts *RootOptions, path, entityID, boundaryID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(path)
	var invalid *configInvalidError
	if errors.As(err, &invalid) {
		if ferr := formatter.Failure("INVALID_CONFIG", "config validation failed", invalid.errs); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "config validation failed")
	}
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	integ, cleanup, err := buildEngine(cfg, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	var report *integration.BoundaryReport
	if boundaryID != "" {
		result, err := integ.EnforceTrustBoundary(boundaryID, entityID)
		if err != nil {
			return WrapExitError(ExitCommandError, "enforcement failed", err)
		}
		report = &integration.BoundaryReport{
			EntityID: entityID,
			Verified: result.Enforced,
			Results:  []integration.BoundaryResult{*result},
		}
		if !result.Enforced {
			report.FailureReasons = fmt.Sprintf("%s: %s", result.BoundaryID, result.Reason)
		}
	} else {
		report, err = integ.VerifyAllBoundaries(entityID)
		if err != nil {
			return WrapExitError(ExitCommandError, "enforcement failed", err)
		}
	}

	if err := formatter.Success(EnforceReport{report}); err != nil {
		return err
	}
	if !report.Verified {
		return NewExitError(ExitFailure, "boundary enforcement failed")
	}
	return nil
}
