package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veriton/trustgraph/internal/integration"
)

// EntityReport is one entity's row in a graph report.
type EntityReport struct {
	EntityID           string   `json:"entity_id"`
	BaseScore          float64  `json:"base_score"`
	VerificationStatus string   `json:"verification_status"`
	Tier               string   `json:"tier,omitempty"`
	InheritanceChain   []string `json:"inheritance_chain,omitempty"`
	Parents            []string `json:"parents,omitempty"`
	Children           []string `json:"children,omitempty"`
}

// GraphReport summarizes a built trust graph: every entity with its
// complete chain, plus the transaction log size.
type GraphReport struct {
	Entities   []EntityReport `json:"entities"`
	Boundaries []string       `json:"boundaries,omitempty"`
	LogEntries int            `json:"log_entries"`
}

// String renders the report for text output.
func (r GraphReport) String() string {
	var b strings.Builder
	for _, e := range r.Entities {
		fmt.Fprintf(&b, "%s score=%.3f status=%s", e.EntityID, e.BaseScore, e.VerificationStatus)
		if e.Tier != "" {
			fmt.Fprintf(&b, " tier=%s", e.Tier)
		}
		if len(e.InheritanceChain) > 0 {
			fmt.Fprintf(&b, " chain=[%s]", strings.Join(e.InheritanceChain, " "))
		}
		b.WriteString("\n")
	}
	if len(r.Boundaries) > 0 {
		fmt.Fprintf(&b, "boundaries: %s\n", strings.Join(r.Boundaries, " "))
	}
	fmt.Fprintf(&b, "log entries: %d", r.LogEntries)
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Build the trust graph from a config and report it",
		Long: `Build the trust graph: register entities and boundaries, add every
relationship (with cycle detection and propagation), and print the
resulting chains and scores.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRun(opts *RootOptions, path string, cmd *cobra.Command) error {
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

	return formatter.Success(BuildGraphReport(integ))
}

// BuildGraphReport assembles a deterministic (id-sorted) report of the
// current graph state.
func BuildGraphReport(integ *integration.Integrator) GraphReport {
	manager, handler := integ.Manager(), integ.Handler()

	ids := manager.EntityIDs()
	sort.Strings(ids)

	report := GraphReport{LogEntries: len(manager.TransactionLog())}
	for _, id := range ids {
		attrs, ok := manager.GetEntity(id)
		if !ok {
			continue
		}
		parents := handler.GetParents(id)
		children := handler.GetChildren(id)
		sort.Strings(parents)
		sort.Strings(children)
		report.Entities = append(report.Entities, EntityReport{
			EntityID:           id,
			BaseScore:          attrs.BaseScore,
			VerificationStatus: string(attrs.VerificationStatus),
			Tier:               attrs.Tier,
			InheritanceChain:   attrs.InheritanceChain,
			Parents:            parents,
			Children:           children,
		})
	}
	for _, b := range manager.AllBoundaries() {
		report.Boundaries = append(report.Boundaries, b.BoundaryID)
	}
	sort.Strings(report.Boundaries)
	return report
}
