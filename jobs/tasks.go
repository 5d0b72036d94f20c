package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian/internal/balances"
	"github.com/meridian-erp/meridian/internal/closing"
	"github.com/meridian-erp/meridian/internal/journal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBalanceApply applies the queued balance deltas of one posted entry.
	TaskBalanceApply = "balance:apply"
	// TaskBalanceSweep drains outbox rows the apply notifications missed.
	TaskBalanceSweep = "balance:outbox_sweep"
	// TaskAutoReverse reverses entries flagged for next-period reversal.
	TaskAutoReverse = "journal:auto_reverse"
	// TaskFiscalArchive locks closed fiscal years past their retention window.
	TaskFiscalArchive = "fy:archive"
)

// sweepBatchSize bounds one outbox sweep run.
const sweepBatchSize = 500

// BalanceApplyPayload identifies the entry whose deltas should be applied.
type BalanceApplyPayload struct {
	OrgID   uuid.UUID `json:"org_id"`
	EntryID uuid.UUID `json:"entry_id"`
}

// NewBalanceApplyTask constructs the per-entry balance application task.
func NewBalanceApplyTask(payload BalanceApplyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceApply, data), nil
}

// NewBalanceSweepTask constructs the outbox sweep task.
func NewBalanceSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBalanceSweep, nil)
}

// NewAutoReverseTask constructs the auto-reversal sweep task.
func NewAutoReverseTask() *asynq.Task {
	return asynq.NewTask(TaskAutoReverse, nil)
}

// NewFiscalArchiveTask constructs the fiscal-year archival task.
func NewFiscalArchiveTask() *asynq.Task {
	return asynq.NewTask(TaskFiscalArchive, nil)
}

// Handlers binds task types to the services doing the work.
type Handlers struct {
	Balances *balances.Accumulator
	Journal  *journal.Service
	Closing  *closing.Service
	Logger   *slog.Logger
}

// HandleBalanceApply processes TaskBalanceApply tasks. Transient conflicts
// are returned to Asynq for retry; the cron sweep covers anything dropped.
func (h Handlers) HandleBalanceApply(ctx context.Context, t *asynq.Task) error {
	var payload BalanceApplyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := h.Balances.ApplyEntry(ctx, payload.EntryID); err != nil {
		h.Logger.Warn("balance apply failed",
			slog.String("entry_id", payload.EntryID.String()), slog.Any("error", err))
		return err
	}
	return nil
}

// HandleBalanceSweep processes TaskBalanceSweep tasks.
func (h Handlers) HandleBalanceSweep(ctx context.Context, t *asynq.Task) error {
	applied, err := h.Balances.SweepOutbox(ctx, sweepBatchSize)
	if err != nil {
		return err
	}
	if applied > 0 {
		h.Logger.Info("balance outbox swept", slog.Int("applied", applied))
	}
	return nil
}

// HandleAutoReverse processes TaskAutoReverse tasks.
func (h Handlers) HandleAutoReverse(ctx context.Context, t *asynq.Task) error {
	reversed, err := h.Journal.SweepAutoReversals(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if reversed > 0 {
		h.Logger.Info("auto reversals posted", slog.Int("reversed", reversed))
	}
	return nil
}

// HandleFiscalArchive processes TaskFiscalArchive tasks.
func (h Handlers) HandleFiscalArchive(ctx context.Context, t *asynq.Task) error {
	archived, err := h.Closing.ArchiveSweep(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if archived > 0 {
		h.Logger.Info("fiscal years archived", slog.Int("archived", archived))
	}
	return nil
}

// All returns the task registrations for the worker mux.
func (h Handlers) All() []TaskHandler {
	return []TaskHandler{
		{Type: TaskBalanceApply, Handler: h.HandleBalanceApply},
		{Type: TaskBalanceSweep, Handler: h.HandleBalanceSweep},
		{Type: TaskAutoReverse, Handler: h.HandleAutoReverse},
		{Type: TaskFiscalArchive, Handler: h.HandleFiscalArchive},
	}
}
