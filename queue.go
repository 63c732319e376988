package verity

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/gordian-engine/verity/internal/vtrace"
)

// Job is one opaque unit of verification work,
// typically closing over a [Batch] and the buffers of a completed read.
// A returned error is logged and recorded on the job's trace span;
// delivering the verdict to whoever is waiting on the read
// is the job's own responsibility.
type Job func(ctx context.Context) error

// Queue runs verification work on a fixed pool of worker goroutines,
// for callers that must not block the I/O completion path on hashing.
//
// The context passed to [NewQueue] controls the lifecycle:
// once it is canceled, workers finish their current job and stop.
type Queue struct {
	log *slog.Logger

	tracer vtrace.Tracer

	// Lifecycle context given to NewQueue,
	// consulted in Enqueue so a send cannot block forever
	// after the workers have stopped.
	lifeCtx context.Context

	jobs chan Job

	wg sync.WaitGroup
}

// QueueConfig is the configuration passed to [NewQueue].
type QueueConfig struct {
	// Number of worker goroutines. Zero means [runtime.NumCPU].
	Workers int

	// Capacity of the job channel.
	// Zero means unbuffered, so Enqueue blocks until a worker is free.
	JobBuffer int

	// Optional tracer provider for per-job spans.
	// Nil means tracing is a no-op.
	TracerProvider vtrace.TracerProvider
}

// NewQueue returns a running queue with the given configuration.
func NewQueue(ctx context.Context, log *slog.Logger, cfg QueueConfig) *Queue {
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers < 0 {
		panic(fmt.Errorf("BUG: worker count must not be negative (got %d)", workers))
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = vtrace.NopTracerProvider()
	}

	q := &Queue{
		log: log,

		tracer: tp.Tracer("verity-queue"),

		lifeCtx: ctx,

		jobs: make(chan Job, cfg.JobBuffer),
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work(ctx, i)
	}
	return q
}

// Enqueue hands a job to the worker pool.
// It blocks while the job channel is full,
// and fails only if ctx or the queue's own context is canceled first.
func (q *Queue) Enqueue(ctx context.Context, j Job) error {
	select {
	case q.jobs <- j:
		return nil
	case <-ctx.Done():
		return fmt.Errorf(
			"context canceled while enqueueing verification work: %w",
			context.Cause(ctx),
		)
	case <-q.lifeCtx.Done():
		return fmt.Errorf(
			"queue stopped before work could be enqueued: %w",
			context.Cause(q.lifeCtx),
		)
	}
}

// Wait blocks until all workers have stopped.
// The workers begin stopping once the context passed to [NewQueue]
// is canceled.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.log.Info(
				"Verification worker stopping due to context cancellation",
				"worker", id,
				"cause", context.Cause(ctx),
			)
			return

		case j := <-q.jobs:
			jCtx, span := q.tracer.Start(ctx, "verify job")
			if err := j(jCtx); err != nil {
				vtrace.SpanError(span, err)
				span.AddEvent("job failed", vtrace.WithAttributes(
					vtrace.ErrorAttr(err),
				))
				q.log.Warn(
					"Verification job failed",
					"worker", id,
					"err", err,
				)
			}
			span.End()
		}
	}
}
