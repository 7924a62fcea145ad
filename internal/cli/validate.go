package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veriton/trustgraph/internal/config"
)

// ValidationResult holds validation results for a graph config.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Errors []config.ValidationError `json:"errors,omitempty"`
}

// String renders the result for text output.
func (r ValidationResult) String() string {
	if r.Valid {
		return "config valid"
	}
	var b strings.Builder
	b.WriteString("config invalid:")
	for _, e := range r.Errors {
		b.WriteString("\n  " + e.Error())
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a graph config without building the graph",
		Long: `Validate a trust graph config: entity scores, boundary definitions,
and relationship shape. Does not run cycle detection - that requires
building the graph (use the run command).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(path)
	var invalid *configInvalidError
	switch {
	case errors.As(err, &invalid):
		if ferr := formatter.Failure("INVALID_CONFIG", "config validation failed",
			ValidationResult{Valid: false, Errors: invalid.errs}); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "config validation failed")
	case err != nil:
		return err
	}

	formatter.VerboseLog("config ok: %d entities, %d relationships, %d boundaries",
		len(cfg.Entities), len(cfg.Relationships), len(cfg.Boundaries))
	return formatter.Success(ValidationResult{Valid: true})
}
