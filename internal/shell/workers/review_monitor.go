package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/promoter/internal/core/domain"
	"github.com/artpar/promoter/internal/shell/store"
)

// ReviewMonitorConfig configures the stale review monitor.
type ReviewMonitorConfig struct {
	Interval time.Duration
	// MaxAge is how long a template may sit in a review state before it
	// is flagged as stale.
	MaxAge time.Duration
}

// DefaultReviewMonitorConfig returns default configuration.
func DefaultReviewMonitorConfig() ReviewMonitorConfig {
	return ReviewMonitorConfig{
		Interval: 15 * time.Minute,
		MaxAge:   72 * time.Hour,
	}
}

// ReviewMonitor periodically scans for templates stuck in review states
// and logs them so operators can chase down stalled promotions.
type ReviewMonitor struct {
	store  store.Store
	config ReviewMonitorConfig
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReviewMonitor creates a new stale review monitor.
func NewReviewMonitor(s store.Store, config ReviewMonitorConfig, logger *slog.Logger) *ReviewMonitor {
	if config.Interval == 0 {
		config.Interval = 15 * time.Minute
	}
	if config.MaxAge == 0 {
		config.MaxAge = 72 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReviewMonitor{
		store:  s,
		config: config,
		logger: logger.With("component", "review_monitor"),
	}
}

// Start begins the monitor background goroutine.
func (m *ReviewMonitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	m.logger.Info("review monitor started", "interval", m.config.Interval, "max_age", m.config.MaxAge)
}

// Stop gracefully stops the monitor.
func (m *ReviewMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("review monitor stopped")
}

func (m *ReviewMonitor) run() {
	defer m.wg.Done()

	m.runCycle()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

func (m *ReviewMonitor) runCycle() {
	ctx, cancel := context.WithTimeout(m.ctx, time.Minute)
	defer cancel()

	stale := m.findStale(ctx, time.Now().UTC())
	for _, t := range stale {
		m.logger.Warn("template stuck in review",
			"template_id", t.ID,
			"name", t.Name,
			"state", t.State,
			"age", time.Since(t.UpdatedAt).Round(time.Minute),
		)
	}
}

// findStale returns templates that have sat in a review state longer than
// MaxAge, oldest first.
func (m *ReviewMonitor) findStale(ctx context.Context, now time.Time) []domain.Template {
	states := []domain.LifecycleState{domain.StateInReview, domain.StateSandboxed, domain.StateApproved}
	templates, err := m.store.ListByStates(ctx, states, store.ListOptions{Limit: 1000})
	if err != nil {
		m.logger.Error("failed to list templates for staleness check", "error", err)
		return nil
	}

	var stale []domain.Template
	for _, t := range templates {
		if now.Sub(t.UpdatedAt) > m.config.MaxAge {
			stale = append(stale, t)
		}
	}
	return stale
}
