package cli

import (
	"io"
	"log/slog"

	"github.com/veriton/trustgraph/internal/config"
	"github.com/veriton/trustgraph/internal/inheritance"
	"github.com/veriton/trustgraph/internal/integration"
	"github.com/veriton/trustgraph/internal/propagation"
	"github.com/veriton/trustgraph/internal/trust"
	"github.com/veriton/trustgraph/internal/txlog"
)

// loadConfig reads and validates a config file, converting failures into
// ExitErrors with the right exit codes.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot load config", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return cfg, &configInvalidError{errs: errs}
	}
	return cfg, nil
}

// configInvalidError carries the full validation error list so commands can
// render every problem, not just the first.
type configInvalidError struct {
	errs []config.ValidationError
}

func (e *configInvalidError) Error() string {
	return "config validation failed"
}

// buildEngine assembles the engine from a validated config and seeds it:
// entities first, then boundaries, then relationships in declaration order.
// The returned cleanup closes the transaction-log sink, if one was opened.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*integration.Integrator, func() error, error) {
	cleanup := func() error { return nil }

	opts := []propagation.Option{propagation.WithLogger(logger)}
	if cfg.LockTimeout > 0 {
		opts = append(opts, propagation.WithLockTimeout(cfg.LockTimeout))
	}
	if cfg.LogPath != "" {
		sink, err := txlog.Open(cfg.LogPath)
		if err != nil {
			return nil, cleanup, WrapExitError(ExitCommandError, "cannot open transaction log", err)
		}
		opts = append(opts, propagation.WithLogSink(sink))
		cleanup = sink.Close
	}

	manager := propagation.NewManager(opts...)
	handler := inheritance.NewHandler(logger)
	integ := integration.New(manager, handler, logger)

	for _, e := range cfg.Entities {
		attr := trust.NewAttribute(e.ID, e.BaseScore, e.ContextScores)
		attr.VerificationStatus = trust.StatusRegistered
		attr.Tier = e.Tier
		if err := integ.RegisterEntity(e.ID, attr); err != nil {
			return nil, cleanup, WrapExitError(ExitFailure, "cannot register entity "+e.ID, err)
		}
	}
	for i := range cfg.Boundaries {
		b := cfg.Boundaries[i]
		if err := integ.RegisterBoundary(&b); err != nil {
			return nil, cleanup, WrapExitError(ExitFailure, "cannot register boundary "+b.BoundaryID, err)
		}
	}
	for _, r := range cfg.Relationships {
		if err := integ.RegisterInheritanceRelationship(r.Parent, r.Child); err != nil {
			return nil, cleanup, WrapExitError(ExitFailure,
				"cannot register relationship "+r.Parent+" -> "+r.Child, err)
		}
	}

	return integ, cleanup, nil
}

// newLogger builds the CLI's structured logger. Diagnostics go to w (stderr
// in practice) so JSON command output stays parseable.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
