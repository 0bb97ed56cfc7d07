package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler owns the periodic maintenance work: renewing the Graph
// change-notification subscription before it lapses, and purging expired
// rows. The webhook path never depends on it.
type Scheduler struct {
	cron         *cron.Cron
	renewalEntry cron.EntryID
	purgeEntry   cron.EntryID
	config       *SchedulerConfig
	store        *Store
	mail         MailClient
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	isRunning    bool
	mu           sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(config *SchedulerConfig, store *Store, mail MailClient) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		config: config,
		store:  store,
		mail:   mail,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// Recreate the context in case this is a restart after Stop
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	renewalSchedule := fmt.Sprintf("0 */%d * * * *", s.config.RenewalIntervalMinutes)
	entryID, err := s.cron.AddFunc(renewalSchedule, s.renewalCycle)
	if err != nil {
		return fmt.Errorf("failed to add renewal job: %w", err)
	}
	s.renewalEntry = entryID

	if s.config.PurgeIntervalMinutes > 0 {
		purgeSchedule := fmt.Sprintf("0 */%d * * * *", s.config.PurgeIntervalMinutes)
		entryID, err := s.cron.AddFunc(purgeSchedule, s.purgeCycle)
		if err != nil {
			return fmt.Errorf("failed to add purge job: %w", err)
		}
		s.purgeEntry = entryID
	}

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started: renewal every %d minute(s), purge every %d minute(s)",
		s.config.RenewalIntervalMinutes, s.config.PurgeIntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any running operations
	s.cancel()

	// Stop the cron scheduler and wait for running jobs
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Wait waits for in-flight jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// GetNextRun returns the time of the next scheduled renewal check
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.renewalEntry).Next
}

// GetLastRun returns the time of the last renewal check
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.renewalEntry).Prev
}

// RunOnce runs both maintenance jobs immediately (for manual triggering)
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running scheduler maintenance once")
	if err := s.RenewIfExpiring(s.ctx); err != nil {
		return err
	}
	return s.store.PurgeExpired()
}

// renewalCycle is the cron entry point for subscription renewal
func (s *Scheduler) renewalCycle() {
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.RenewIfExpiring(s.ctx); err != nil {
		logrus.Errorf("Subscription renewal failed: %v", err)
	}
}

// purgeCycle is the cron entry point for TTL cleanup
func (s *Scheduler) purgeCycle() {
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.store.PurgeExpired(); err != nil {
		logrus.Errorf("Expired-row purge failed: %v", err)
	}
}

// RenewIfExpiring renews the stored Graph subscription when less than the
// configured threshold remains before it expires. A missing subscription is
// not an error; one is created manually through the admin API.
func (s *Scheduler) RenewIfExpiring(ctx context.Context) error {
	sub, err := s.store.GetSubscriptionInfo()
	if err != nil {
		if err == ErrNotFound {
			logrus.Debug("No mail subscription stored, nothing to renew")
			return nil
		}
		return err
	}

	remaining := time.Until(sub.ExpiresAt)
	if remaining >= s.config.RenewalThreshold {
		logrus.Debugf("Mail subscription valid for %v, no renewal needed", remaining.Round(time.Minute))
		return nil
	}

	expiresAt := time.Now().Add(subscriptionLifetime)
	if err := s.mail.RenewSubscription(ctx, sub.SubscriptionID, expiresAt); err != nil {
		return fmt.Errorf("failed to renew subscription %s: %w", sub.SubscriptionID, err)
	}

	if err := s.store.SaveSubscriptionInfo(&SubscriptionInfo{
		ID:        sub.SubscriptionID,
		Resource:  sub.Resource,
		ExpiresAt: expiresAt,
	}); err != nil {
		return fmt.Errorf("failed to persist renewed subscription: %w", err)
	}

	logrus.Infof("Renewed mail subscription %s until %s", sub.SubscriptionID, expiresAt.Format(time.RFC3339))
	return nil
}
