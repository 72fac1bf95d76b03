package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/domain"
	"github.com/couchcryptid/flir-etl-service/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns a dataset event into a completion. A *SkipError means the
// event needs no work.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.Completion, error)
}

// BatchLoader writes multiple completions to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, completions []domain.Completion) error
}

// RunRecorder persists processed datasets and per-event run telemetry.
type RunRecorder interface {
	MarkProcessed(ctx context.Context, c domain.Completion) error
	RecordRun(ctx context.Context, r domain.RunRecord) (string, error)
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	recorder    RunRecorder
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// SetRecorder enables the ledger. It must be called before Run.
func (p *Pipeline) SetRecorder(r RunRecorder) {
	p.recorder = r
}

// CheckReadiness returns nil once the pipeline has handled at least one
// message, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any messages yet")
	}
	return nil
}

// Run executes the batch ETL loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	committed, ok := p.transformAndLoad(ctx, rawBatch, backoff)
	if !ok {
		return false
	}

	if committed > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// transformAndLoad transforms each message in the batch, loads the
// completions (retrying until the sink accepts them), then records and
// commits them. Skipped and failed messages are committed immediately.
// Returns the number of committed messages and false if the pipeline should
// stop.
func (p *Pipeline) transformAndLoad(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration) (int, bool) {
	outBatch := make([]domain.Completion, 0, len(rawBatch))
	successfulRaws := make([]domain.RawEvent, 0, len(rawBatch))
	committed := 0

	for _, raw := range rawBatch {
		started := domain.Now()
		out, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.handleTransformError(ctx, raw, err, started)
			p.commitOffset(ctx, raw)
			committed++
			continue
		}
		outBatch = append(outBatch, out)
		successfulRaws = append(successfulRaws, raw)
	}

	if len(outBatch) == 0 {
		return committed, true
	}

	if !p.loadWithRetry(ctx, outBatch, backoff) {
		return committed, false
	}

	p.metrics.MessagesProduced.Add(float64(len(outBatch)))

	for i, raw := range successfulRaws {
		p.recordProcessed(ctx, outBatch[i])
		p.commitOffset(ctx, raw)
	}
	return committed + len(successfulRaws), true
}

// loadWithRetry hands the batch to the loader until it is accepted, backing
// off between attempts. The reader does not redeliver uncommitted messages
// within a session, so the batch is held here rather than dropped. Returns
// false if the context ended first.
func (p *Pipeline) loadWithRetry(ctx context.Context, batch []domain.Completion, backoff *time.Duration) bool {
	for attempt := 1; ; attempt++ {
		err := p.loader.LoadBatch(ctx, batch)
		if err == nil {
			*backoff = initialBackoff
			return true
		}
		p.logger.Error("load batch failed", "error", err, "batch_size", len(batch), "attempt", attempt)
		if !p.backoffOrStop(ctx, backoff) {
			p.logger.Warn("abandoning unloaded batch, offsets left uncommitted", "batch_size", len(batch))
			return false
		}
	}
}

func (p *Pipeline) handleTransformError(ctx context.Context, raw domain.RawEvent, err error, started time.Time) {
	run := domain.RunRecord{StartedAt: started, EndedAt: domain.Now(), Detail: err.Error()}

	var skipErr *SkipError
	if errors.As(err, &skipErr) {
		p.logger.Info("dataset skipped",
			"dataset_id", skipErr.DatasetID,
			"reason", skipErr.Reason,
		)
		p.metrics.DatasetsSkipped.WithLabelValues(string(skipErr.Reason)).Inc()
		run.DatasetID, run.DatasetName = skipErr.DatasetID, skipErr.DatasetName
		run.Outcome, run.Detail = domain.OutcomeSkipped, string(skipErr.Reason)
		p.recordRun(ctx, run)
		return
	}

	kind := errorKind(err)
	p.logger.Warn("transform failed, skipping message",
		"error", err,
		"kind", kind,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	p.metrics.ProcessErrors.WithLabelValues(kind).Inc()

	var dsErr *DatasetError
	if errors.As(err, &dsErr) && dsErr.DatasetID != "" {
		run.DatasetID, run.DatasetName = dsErr.DatasetID, dsErr.DatasetName
		run.Outcome = domain.OutcomeFailed
		p.recordRun(ctx, run)
	}
}

func (p *Pipeline) recordProcessed(ctx context.Context, c domain.Completion) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.MarkProcessed(ctx, c); err != nil {
		p.logger.Warn("ledger mark failed", "error", err, "dataset_id", c.DatasetID)
	}
	p.recordRun(ctx, domain.RunRecord{
		DatasetID:    c.DatasetID,
		DatasetName:  c.DatasetName,
		Outcome:      domain.OutcomeProcessed,
		FilesCreated: len(c.FilesCreated),
		BytesWritten: c.BytesWritten,
		StartedAt:    c.StartedAt,
		EndedAt:      c.EndedAt,
	})
}

func (p *Pipeline) recordRun(ctx context.Context, run domain.RunRecord) {
	if p.recorder == nil {
		return
	}
	if _, err := p.recorder.RecordRun(ctx, run); err != nil {
		p.logger.Warn("ledger run record failed", "error", err, "dataset_id", run.DatasetID)
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
