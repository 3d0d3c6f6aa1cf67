// Package agent runs the client side of backup synchronization: the
// session-start conflict check, the dataset watcher, the hashing worker
// and the AUTO backup scheduler.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/conflict"
	"github.com/dukerupert/navsync/internal/dataset"
	"github.com/dukerupert/navsync/internal/scheduler"
	"github.com/dukerupert/navsync/internal/syncstate"
)

// Session holds the client's runtime switches. Safe for concurrent use.
type Session struct {
	authenticated atomic.Bool
	enabled       atomic.Bool
	suspended     atomic.Bool
}

func NewSession(authenticated, autoBackup bool) *Session {
	s := &Session{}
	s.authenticated.Store(authenticated)
	s.enabled.Store(autoBackup)
	return s
}

func (s *Session) Authenticated() bool { return s.authenticated.Load() }

// AutoBackupEnabled is false while the user has auto backup off or an
// unresolved conflict suspends it.
func (s *Session) AutoBackupEnabled() bool { return s.enabled.Load() && !s.suspended.Load() }

func (s *Session) Suspend() { s.suspended.Store(true) }
func (s *Session) Resume()  { s.suspended.Store(false) }

// Suspended reports whether a conflict suspended auto backup.
func (s *Session) Suspended() bool { return s.suspended.Load() }

type Config struct {
	Scheduler       scheduler.Config
	HashTimeout     time.Duration
	NewRegistration bool
	// RecheckInterval is how often a suspended agent looks for a conflict
	// resolved elsewhere. Defaults to the scheduler wake interval.
	RecheckInterval time.Duration
}

type Agent struct {
	cfg      Config
	session  *Session
	dataset  *dataset.FileStore
	worker   *canonical.Worker
	sched    *scheduler.Scheduler
	resolver *conflict.Resolver
	logger   *slog.Logger
}

func New(cfg Config, session *Session, ds *dataset.FileStore, remote conflict.Remote, state *syncstate.State, logger *slog.Logger, opts ...scheduler.Option) *Agent {
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = cfg.Scheduler.WakeInterval
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = time.Minute
	}
	worker := canonical.NewWorker(cfg.HashTimeout, logger.With("component", "hasher"))
	return &Agent{
		cfg:      cfg,
		session:  session,
		dataset:  ds,
		worker:   worker,
		sched:    scheduler.New(cfg.Scheduler, session, ds, worker, remote, state, logger.With("component", "scheduler"), opts...),
		resolver: conflict.NewResolver(ds, remote, worker, state, nil, logger.With("component", "conflict")),
		logger:   logger,
	}
}

// Resolver returns the conflict resolver, for interactive resolution.
func (a *Agent) Resolver() *conflict.Resolver { return a.resolver }

// Run checks for conflicts, then watches the dataset and runs the
// scheduler until ctx is done. An unresolved conflict suspends AUTO
// backups but keeps the agent running.
func (a *Agent) Run(ctx context.Context) error {
	a.worker.Start(ctx)
	defer a.worker.Stop()

	if a.session.Authenticated() {
		res, err := a.resolver.Check(ctx, a.cfg.NewRegistration)
		switch {
		case err != nil:
			a.logger.Warn("session start check failed", "error", err)
		case res.Action == conflict.ActionConflict:
			a.session.Suspend()
			a.logger.Warn("local and remote data differ; auto backup suspended until the data matches again, e.g. after 'navsync sync'",
				"local_count", res.Conflict.LocalCount,
				"remote_count", res.Conflict.RemoteCount,
				"remote_created_at", res.Conflict.RemoteCreatedAt,
			)
		default:
			a.logger.Info("session start check", "action", res.Action)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.dataset.Watch(gctx, a.sched.NotifyChange, a.logger.With("component", "watcher")); err != nil {
			return fmt.Errorf("watch dataset: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sched.Run(gctx)
	})

	if a.session.Suspended() {
		g.Go(func() error {
			a.awaitResolution(gctx)
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-a.sched.Failures():
				a.logger.Warn("auto backup gave up; it will run again on the next change or wake", "error", err)
			}
		}
	})

	return g.Wait()
}

// awaitResolution repeats the session start check every RecheckInterval
// and resumes auto backup once local and remote data no longer conflict.
func (a *Agent) awaitResolution(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := a.resolver.Check(ctx, false)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Debug("conflict recheck failed", "error", err)
			}
			continue
		}
		if res.Action == conflict.ActionConflict {
			continue
		}

		a.session.Resume()
		a.logger.Info("conflict resolved; auto backup resumed", "action", res.Action)
		a.sched.NotifyChange()
		return
	}
}
