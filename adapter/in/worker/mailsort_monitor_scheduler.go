package worker

import (
	"context"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/service/monitor"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// MonitorScheduler - periodic mailbox checks
// =============================================================================
//
// Runs the monitor over every mailbox flagged for monitoring on a fixed
// interval. Each tick is bounded by a timeout so a stuck provider call
// cannot wedge the loop.

const (
	monitorStartupDelay = 10 * time.Second
	monitorRunTimeout   = 5 * time.Minute
)

type MonitorScheduler struct {
	monitor       *monitor.Monitor
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewMonitorScheduler creates a scheduler that calls Monitor.RunAll every interval.
func NewMonitorScheduler(mon *monitor.Monitor, interval time.Duration) *MonitorScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &MonitorScheduler{
		monitor:       mon,
		checkInterval: interval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the scheduler loop.
func (s *MonitorScheduler) Start() {
	logger.Info("[MonitorScheduler] Starting...")
	go s.run()
}

// Stop stops the scheduler loop.
func (s *MonitorScheduler) Stop() {
	logger.Info("[MonitorScheduler] Stopping...")
	s.cancel()
}

func (s *MonitorScheduler) run() {
	// let the API surface come up before the first pass
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(monitorStartupDelay):
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.runOnce()
	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[MonitorScheduler] Stopped")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *MonitorScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, monitorRunTimeout)
	defer cancel()

	results, err := s.monitor.RunAll(ctx)
	if err != nil {
		logger.WithError(err).Error("[MonitorScheduler] Run failed")
		return
	}
	if len(results) == 0 {
		return
	}

	var completed, skipped, failed int
	for _, r := range results {
		switch r.Outcome {
		case domain.CheckCompleted:
			completed++
		case domain.CheckSkipped:
			skipped++
		case domain.CheckFailed:
			failed++
		}
	}
	logger.WithFields(map[string]any{
		"mailboxes": len(results),
		"completed": completed,
		"skipped":   skipped,
		"failed":    failed,
	}).Info("[MonitorScheduler] Pass finished")
}

// SetCheckInterval sets the check interval (for testing).
func (s *MonitorScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}
