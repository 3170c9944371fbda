// Package connector defines the pluggable interface used to collect
// snapshots from monitored SQL sources, grounded on the original SQL
// connector's dialect handling and the teacher's backend-factory registry
// pattern, repurposed from storage backends to data-source dialects.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
)

// Sentinel errors mirroring the pack's connector exception hierarchy.
var (
	ErrConnection = errors.New("connector: connection failed")
	ErrQuery      = errors.New("connector: query failed")
	ErrTimeout    = errors.New("connector: operation timed out")
	ErrValidation = errors.New("connector: result validation failed")
)

// Connector collects a Snapshot from one configured source dialect.
type Connector interface {
	Collect(ctx context.Context, cfg config.SourceConfig) (model.Snapshot, error)
	TestConnection(ctx context.Context, cfg config.SourceConfig) error
}

// Factory constructs a Connector for a dialect.
type Factory func() Connector

var registry = make(map[string]Factory)

// Register adds a dialect factory to the registry. Called from each
// dialect's init().
func Register(dialect string, factory Factory) {
	registry[dialect] = factory
}

// New returns a Connector for the given source's configured dialect.
func New(cfg config.SourceConfig) (Connector, error) {
	factory, ok := registry[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("connector: unknown dialect %q (source %s)", cfg.Dialect, cfg.Name)
	}
	return factory(), nil
}

// CollectSafe runs c.Collect and converts any error into a COLLECT_FAILED
// snapshot rather than propagating it, so a single flaky source never
// aborts the scheduler's whole iteration.
func CollectSafe(ctx context.Context, c Connector, cfg config.SourceConfig) model.Snapshot {
	snapshot, err := c.Collect(ctx, cfg)
	if err == nil {
		return snapshot
	}

	return model.Snapshot{
		SourceName:    cfg.Name,
		CollectStatus: model.CollectFailed,
		ErrorCode:     errorCode(err),
		ErrorMessage:  truncate(err.Error(), 500),
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrConnection):
		return "CONNECTION_ERROR"
	case errors.Is(err, ErrQuery):
		return "QUERY_ERROR"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT_ERROR"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
