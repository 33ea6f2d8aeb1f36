package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

// Scheduler runs periodic sync passes for every configured account,
// one goroutine per account. A pass can also be forced out of band
// with TriggerSync, e.g. right after the user edits a draft.
type Scheduler struct {
	engine   *Engine
	accounts []config.AccountConfig
	interval time.Duration
	logger   *logrus.Logger

	triggers map[string]chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for the given accounts.
func NewScheduler(engine *Engine, accounts []config.AccountConfig, interval time.Duration, logger *logrus.Logger) *Scheduler {
	triggers := make(map[string]chan struct{}, len(accounts))
	for _, acc := range accounts {
		// Buffered so a trigger during a running pass queues exactly
		// one follow-up pass instead of being dropped.
		triggers[acc.Name] = make(chan struct{}, 1)
	}
	return &Scheduler{
		engine:   engine,
		accounts: accounts,
		interval: interval,
		logger:   logger,
		triggers: triggers,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the per-account sync loops. Each account syncs once
// immediately, then on every tick or trigger.
func (s *Scheduler) Start(ctx context.Context) {
	for i := range s.accounts {
		acc := &s.accounts[i]
		s.wg.Add(1)
		go s.run(ctx, acc)
	}
	s.logger.WithFields(logrus.Fields{
		"accounts": len(s.accounts),
		"interval": s.interval,
	}).Info("Draft sync scheduler started")
}

// TriggerSync requests an immediate pass for one account. Unknown
// account names are ignored.
func (s *Scheduler) TriggerSync(name string) {
	ch, ok := s.triggers[name]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop shuts the loops down and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Draft sync scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, acc *config.AccountConfig) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx, acc)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx, acc)
		case <-s.triggers[acc.Name]:
			s.pass(ctx, acc)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context, acc *config.AccountConfig) {
	if err := s.engine.SyncPass(ctx, acc); err != nil {
		s.logger.WithField("account", acc.Name).WithError(err).Warn("Sync pass failed")
	}
}
