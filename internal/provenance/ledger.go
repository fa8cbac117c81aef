// Package provenance records every externally computed operation as a tool run.
//
// The ledger is best-effort: a failed write is logged and dropped, never
// returned to the caller. Rows are created running and finalized exactly once.
package provenance

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/observability"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/store"
	"github.com/jonathan/planning-ingest/internal/types"
)

// DefaultHeartbeatInterval is used when the ledger is built without one
const DefaultHeartbeatInterval = 15 * time.Second

// writeTimeout bounds each ledger write so a slow store cannot stall a stage
const writeTimeout = 5 * time.Second

// Refs ties a tool run to its batch and run
type Refs struct {
	BatchID *uuid.UUID
	RunID   *uuid.UUID
}

// Ledger writes tool runs through a ToolRunStore
type Ledger struct {
	store     store.ToolRunStore
	logger    *slog.Logger
	metrics   *observability.Metrics
	heartbeat time.Duration
	now       func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithHeartbeatInterval sets the interval for long-running calls
func WithHeartbeatInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.heartbeat = d
		}
	}
}

// WithMetrics records tool-run outcomes and dropped writes
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger. A nil logger uses slog.Default().
func New(s store.ToolRunStore, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:     s,
		logger:    logger,
		heartbeat: DefaultHeartbeatInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin inserts a running tool run and returns its id. The id is valid even
// when the insert failed; later updates to it are then dropped as well.
func (l *Ledger) Begin(ctx context.Context, tool string, inputs map[string]any, refs Refs) uuid.UUID {
	id := uuid.New()
	if l == nil {
		return id
	}
	tr := &types.ToolRun{
		ID:        id,
		Tool:      tool,
		BatchID:   refs.BatchID,
		RunID:     refs.RunID,
		Inputs:    SanitizeInputs(inputs),
		Status:    types.ToolRunStatusRunning,
		StartedAt: l.now().UTC(),
	}
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := l.store.InsertToolRun(wctx, tr); err != nil {
		l.dropped("begin", tool, id, err)
	}
	return id
}

// Finish finalizes a tool run. Empty confidence or uncertainty are stored as null.
func (l *Ledger) Finish(ctx context.Context, id uuid.UUID, status string, outputs map[string]any, confidence, uncertainty string) {
	if l == nil {
		return
	}
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := l.store.FinishToolRun(wctx, id, status, outputs, optional(confidence), optional(uncertainty)); err != nil {
		l.dropped("finish", "", id, err)
	}
}

// Heartbeat merges {heartbeat_at, elapsed_ms} into the row's outputs every
// interval until the returned stop function is called. stop waits for the
// ticker goroutine to exit.
func (l *Ledger) Heartbeat(ctx context.Context, id uuid.UUID, interval time.Duration) (stop func()) {
	if l == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = l.heartbeat
	}
	started := l.now()
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := l.now()
				beat := map[string]any{
					"heartbeat_at": now.UTC().Format(time.RFC3339Nano),
					"elapsed_ms":   now.Sub(started).Milliseconds(),
				}
				wctx, cancel := writeContext(context.WithoutCancel(ctx))
				if err := l.store.MergeToolRunOutputs(wctx, id, beat); err != nil {
					l.dropped("heartbeat", "", id, err)
				}
				cancel()
			}
		}
	}()

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
		<-exited
	}
}

func (l *Ledger) dropped(op, tool string, id uuid.UUID, err error) {
	l.metrics.LedgerWriteFailed()
	l.logger.Warn("provenance write failed",
		slog.String("op", op),
		slog.String("tool", tool),
		slog.String("tool_run_id", id.String()),
		slog.Any("error", err))
}

// Ledger writes outlive a cancelled call so the failure itself gets recorded
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var secretWords = map[string]bool{
	"key": true, "apikey": true, "token": true, "secret": true, "password": true,
	"passwd": true, "auth": true, "authorization": true, "credential": true, "credentials": true,
}

// isSecretKey matches keys with a secret-bearing word, e.g. api_key or
// authToken, but not unit_keys
func isSecretKey(k string) bool {
	var sb strings.Builder
	for i, r := range k {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(rune(k[i-1])) {
			sb.WriteByte('_')
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	words := strings.FieldsFunc(sb.String(), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	for _, w := range words {
		if secretWords[w] {
			return true
		}
	}
	return false
}

// SanitizeInputs drops secrets and replaces binary payloads with their size
func SanitizeInputs(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if isSecretKey(k) {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return map[string]any{"bytes": len(x)}
	case providers.Image:
		return map[string]any{"bytes": len(x.Data), "mime_type": x.MIMEType}
	case *providers.Image:
		if x == nil {
			return nil
		}
		return map[string]any{"bytes": len(x.Data), "mime_type": x.MIMEType}
	case []providers.Image:
		out := make([]any, len(x))
		for i, img := range x {
			out[i] = sanitizeValue(img)
		}
		return out
	case map[string]any:
		return SanitizeInputs(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}
