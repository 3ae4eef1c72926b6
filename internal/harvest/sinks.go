package harvest

import (
	"context"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
	"github.com/xkilldash9x/harvester-cli/internal/forward"
)

// Sink receives every finalized result.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, result *schemas.HarvestResult) error
}

// SnapshotSink dumps results as JSON files.
type SnapshotSink struct{ Dir *artifacts.Dir }

func (s SnapshotSink) Name() string { return "snapshot" }

func (s SnapshotSink) Deliver(ctx context.Context, result *schemas.HarvestResult) error {
	_, err := s.Dir.WriteSnapshot(result)
	return err
}

// RunSaver persists run records. Satisfied by *store.Store.
type RunSaver interface {
	SaveRun(ctx context.Context, result *schemas.HarvestResult) error
}

// StoreSink records results in the run store.
type StoreSink struct{ Store RunSaver }

func (s StoreSink) Name() string { return "run_store" }

func (s StoreSink) Deliver(ctx context.Context, result *schemas.HarvestResult) error {
	return s.Store.SaveRun(ctx, result)
}

// ForwardSink posts completed runs to the downstream consumer. Aborted runs
// carry no orders worth mapping and are skipped.
type ForwardSink struct{ Client *forward.Client }

func (s ForwardSink) Name() string { return "forward" }

func (s ForwardSink) Deliver(ctx context.Context, result *schemas.HarvestResult) error {
	if !result.Success {
		return nil
	}
	return s.Client.Forward(ctx, result)
}
