package provenance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

// Call describes one bracketed provider call
type Call struct {
	Tool   string
	Inputs map[string]any
	Refs   Refs
	// LongRunning calls emit heartbeats while in flight.
	LongRunning bool
}

// Result is what a successful call contributes to its ledger row
type Result struct {
	Outputs     map[string]any
	Confidence  string
	Uncertainty string
}

// Track brackets fn with Begin and Finish. Failures are finalized as error
// with the error class; malformed model answers keep their raw text.
// describe may be nil.
func Track[T any](ctx context.Context, l *Ledger, call Call, fn func(context.Context) (T, error), describe func(T) Result) (T, uuid.UUID, error) {
	id := l.Begin(ctx, call.Tool, call.Inputs, call.Refs)
	start := time.Now()

	stop := func() {}
	if call.LongRunning {
		stop = l.Heartbeat(ctx, id, 0)
	}
	out, err := fn(ctx)
	stop()

	elapsed := time.Since(start)
	if err != nil {
		outputs := map[string]any{
			"error":       err.Error(),
			"error_class": providers.Classify(err),
			"elapsed_ms":  elapsed.Milliseconds(),
		}
		if raw, ok := providers.RawTextOf(err); ok && raw != "" {
			outputs["raw_text"] = raw
		}
		l.Finish(ctx, id, types.ToolRunStatusError, outputs, "", "")
		l.observe(call.Tool, types.ToolRunStatusError, providers.Classify(err), elapsed)
		return out, id, err
	}

	var res Result
	if describe != nil {
		res = describe(out)
	}
	if res.Outputs == nil {
		res.Outputs = map[string]any{}
	}
	res.Outputs["elapsed_ms"] = elapsed.Milliseconds()
	l.Finish(ctx, id, types.ToolRunStatusSuccess, res.Outputs, res.Confidence, res.Uncertainty)
	l.observe(call.Tool, types.ToolRunStatusSuccess, "ok", elapsed)
	return out, id, nil
}

func (l *Ledger) observe(tool, status, class string, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.metrics.ToolRunFinished(tool, status, class, elapsed)
}
