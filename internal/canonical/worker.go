package canonical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrWorkerUnavailable is returned for jobs still queued when the worker stops.
var ErrWorkerUnavailable = errors.New("hash worker unavailable")

const (
	defaultQueueSize = 4
	defaultTimeout   = 30 * time.Second
)

type job struct {
	snapshot any
	reply    chan result
}

type result struct {
	hash string
	err  error
}

// Worker computes digests on a dedicated goroutine so callers driving a
// UI or event loop are not blocked by large datasets. Jobs and replies
// are plain messages; the worker shares no state with its callers.
type Worker struct {
	mu      sync.Mutex
	jobs    chan job
	timeout time.Duration
	logger  *slog.Logger
	digest  func(any) (string, error)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a stopped worker. A zero timeout uses 30s.
func NewWorker(timeout time.Duration, logger *slog.Logger) *Worker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Worker{
		timeout: timeout,
		logger:  logger,
		digest:  Digest,
	}
}

// Start launches the background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.jobs = make(chan job, defaultQueueSize)
	w.done = make(chan struct{})

	go w.loop(ctx, w.jobs, w.done)
}

// Stop terminates the background goroutine. Later Submit calls hash
// synchronously.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.jobs = nil
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (w *Worker) loop(ctx context.Context, jobs <-chan job, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			w.detach(jobs)
			for {
				select {
				case j := <-jobs:
					j.reply <- result{err: ErrWorkerUnavailable}
				default:
					return
				}
			}
		case j := <-jobs:
			j.reply <- w.run(j.snapshot)
		}
	}
}

// detach stops new jobs from being queued on jobs, so Submit falls back
// to inline hashing once the loop has exited without Stop.
func (w *Worker) detach(jobs <-chan job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs != nil && (<-chan job)(w.jobs) == jobs {
		w.jobs = nil
	}
}

func (w *Worker) run(snapshot any) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("hash job panicked: %v", r)}
		}
	}()
	h, err := w.digest(snapshot)
	return result{hash: h, err: err}
}

// Submit returns the digest of snapshot. If the job cannot be dispatched
// the digest is computed on the calling goroutine. Errors raised by the
// worker and reply timeouts are returned without a synchronous retry.
func (w *Worker) Submit(ctx context.Context, snapshot any) (string, error) {
	reply := make(chan result, 1)
	if !w.enqueue(job{snapshot: snapshot, reply: reply}) {
		w.logger.Debug("hash worker unavailable, hashing inline")
		return w.digest(snapshot)
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		if r.err != nil {
			return "", fmt.Errorf("hash worker: %w", r.err)
		}
		return r.hash, nil
	case <-timer.C:
		return "", fmt.Errorf("hash worker: no reply after %s", w.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *Worker) enqueue(j job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs == nil {
		return false
	}
	select {
	case w.jobs <- j:
		return true
	default:
		return false
	}
}
