// Package scheduler decides when the client uploads AUTO backups. Cycles
// are triggered by debounced change signals, a periodic wake ticker and a
// start-up kick, and run one at a time on the Run goroutine.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/navsync/internal/apiclient"
	"github.com/dukerupert/navsync/internal/clock"
	"github.com/dukerupert/navsync/internal/model"
	"github.com/dukerupert/navsync/internal/syncstate"
)

// Session reports whether automatic backups may run right now.
type Session interface {
	Authenticated() bool
	AutoBackupEnabled() bool
}

// Dataset exports the local dataset. Implemented by dataset.FileStore.
type Dataset interface {
	Export(ctx context.Context) (model.BackupPayload, error)
}

// Hasher computes the content digest of a dataset snapshot.
// Implemented by canonical.Worker.
type Hasher interface {
	Submit(ctx context.Context, snapshot any) (string, error)
}

// Remote uploads backups. Implemented by apiclient.Client.
type Remote interface {
	CreateBackup(ctx context.Context, payload []byte, typ model.BackupType) (*model.BackupRecord, error)
}

// Outcome is the result of one cycle.
type Outcome string

const (
	// OutcomeIdle means a guard prevented the cycle from starting.
	OutcomeIdle             Outcome = "idle"
	OutcomeSkippedEmpty     Outcome = "skipped_empty"
	OutcomeSkippedUnchanged Outcome = "skipped_unchanged"
	// OutcomeSkippedRemote means the server found the content unchanged.
	OutcomeSkippedRemote Outcome = "skipped_remote"
	OutcomeCreated       Outcome = "created"
	OutcomeFailed        Outcome = "failed"
)

type Config struct {
	MinInterval  time.Duration
	LockTTL      time.Duration
	InitialDelay time.Duration
	WakeInterval time.Duration
	Debounce     time.Duration
	MaxRetries   int
	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration
}

func (c *Config) setDefaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.WakeInterval <= 0 {
		c.WakeInterval = time.Minute
	}
	if c.Debounce <= 0 {
		c.Debounce = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
}

type Scheduler struct {
	cfg      Config
	session  Session
	dataset  Dataset
	hasher   Hasher
	remote   Remote
	state    *syncstate.State
	clock    clock.Clock
	logger   *slog.Logger
	changes  chan struct{}
	failures chan error

	retryable func(error) bool
	onCycle   func(Outcome, error)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for state timestamps.
func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithCycleHook registers f to be called after every cycle Run triggers.
func WithCycleHook(f func(Outcome, error)) Option { return func(s *Scheduler) { s.onCycle = f } }

func New(cfg Config, session Session, dataset Dataset, hasher Hasher, remote Remote, state *syncstate.State, logger *slog.Logger, opts ...Option) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:       cfg,
		session:   session,
		dataset:   dataset,
		hasher:    hasher,
		remote:    remote,
		state:     state,
		clock:     clock.Real{},
		logger:    logger,
		changes:   make(chan struct{}, 1),
		failures:  make(chan error, 1),
		retryable: apiclient.IsRetryable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyChange signals that the dataset changed. It never blocks; a burst
// of signals collapses into one cycle after the debounce window.
func (s *Scheduler) NotifyChange() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Failures delivers AUTO backup failures that exhausted their retries.
// Undelivered failures are dropped when a newer one arrives.
func (s *Scheduler) Failures() <-chan error {
	return s.failures
}

func (s *Scheduler) reportFailure(err error) {
	for {
		select {
		case s.failures <- err:
			return
		default:
		}
		// Replace the stale failure with the newest one.
		select {
		case <-s.failures:
		default:
		}
	}
}

// Run drives cycles until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	initial := time.NewTimer(s.cfg.InitialDelay)
	defer initial.Stop()

	wake := time.NewTicker(s.cfg.WakeInterval)
	defer wake.Stop()

	debounce := time.NewTimer(s.cfg.Debounce)
	debounce.Stop() // idle until the first change
	defer debounce.Stop()

	s.logger.Info("scheduler started",
		"min_interval", s.cfg.MinInterval,
		"wake_interval", s.cfg.WakeInterval,
		"debounce", s.cfg.Debounce,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-initial.C:
			s.trigger(ctx, "startup")
		case <-wake.C:
			s.trigger(ctx, "wake")
		case <-s.changes:
			debounce.Reset(s.cfg.Debounce)
		case <-debounce.C:
			s.trigger(ctx, "change")
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	outcome, err := s.RunCycle(ctx)
	if err != nil {
		s.logger.Warn("auto backup failed", "trigger", reason, "error", err)
	} else if outcome != OutcomeIdle {
		s.logger.Info("auto backup cycle", "trigger", reason, "outcome", outcome)
	}
	if s.onCycle != nil {
		s.onCycle(outcome, err)
	}
}

// RunCycle evaluates the guards and, when they pass, runs one locked
// backup cycle. The lock is always released before returning.
func (s *Scheduler) RunCycle(ctx context.Context) (Outcome, error) {
	if !s.session.Authenticated() || !s.session.AutoBackupEnabled() {
		return OutcomeIdle, nil
	}

	now := s.clock.Now()
	held, err := s.state.LockHeld(ctx, now, s.cfg.LockTTL)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("check lock: %w", err)
	}
	if held {
		s.logger.Debug("another cycle holds the lock")
		return OutcomeIdle, nil
	}

	last, ok, err := s.state.LastBackupTime(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read last backup time: %w", err)
	}
	if ok && now.Sub(last) < s.cfg.MinInterval {
		return OutcomeIdle, nil
	}

	if err := s.state.Lock(ctx, now); err != nil {
		return OutcomeFailed, fmt.Errorf("take lock: %w", err)
	}
	defer func() {
		if err := s.state.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("release backup lock", "error", err)
		}
	}()

	outcome, err := s.cycle(ctx)
	if err != nil && outcome == OutcomeFailed && ctx.Err() == nil {
		s.reportFailure(err)
	}
	return outcome, err
}

func (s *Scheduler) cycle(ctx context.Context) (Outcome, error) {
	payload, err := s.dataset.Export(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("export dataset: %w", err)
	}
	if payload.Data.IsEmpty() {
		s.logger.Debug("dataset empty, nothing to back up")
		return OutcomeSkippedEmpty, nil
	}

	digest, err := s.hasher.Submit(ctx, payload.Data)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("hash dataset: %w", err)
	}

	lastHash, err := s.state.LastHash(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read last hash: %w", err)
	}
	if digest == lastHash {
		if err := s.state.SetLastBackupTime(ctx, s.clock.Now()); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeSkippedUnchanged, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("encode payload: %w", err)
	}

	record, err := s.upload(ctx, raw)
	if err != nil {
		return OutcomeFailed, err
	}

	// A server-side skip means the latest AUTO record already has digest.
	if err := s.state.MarkSynced(ctx, digest, s.clock.Now()); err != nil {
		return OutcomeFailed, err
	}
	if record == nil {
		return OutcomeSkippedRemote, nil
	}
	s.logger.Info("auto backup created", "id", record.ID, "size", record.Size, "file_hash", digest)
	return OutcomeCreated, nil
}

func (s *Scheduler) upload(ctx context.Context, raw []byte) (*model.BackupRecord, error) {
	var (
		record  *model.BackupRecord
		attempt int
	)
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxRetries), retry.NewExponential(s.cfg.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := s.remote.CreateBackup(ctx, raw, model.BackupTypeAuto)
		if err != nil {
			if s.retryable(err) {
				s.logger.Debug("auto backup attempt failed, retrying", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("upload auto backup after %d attempts: %w", attempt, err)
	}
	return record, nil
}
