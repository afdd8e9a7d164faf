// Package monitor runs the per-mailbox fetch/classify/forward loop.
package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classify"
	"mailsort_server/core/service/forwarding"
	"mailsort_server/pkg/apperr"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// Mailbox Monitor
// =============================================================================

// Options tune the monitor's fetch windows and pacing.
type Options struct {
	// BootstrapLookback is the fetch window of a monitor's first check.
	BootstrapLookback time.Duration

	// MinInterval is the minimum gap between two checks of one mailbox.
	// A check requested earlier is skipped, not queued.
	MinInterval time.Duration

	// MinLookback floors the incremental fetch window so short check gaps
	// still overlap the previous window. Dedup absorbs the overlap.
	MinLookback time.Duration

	// FetchLimit caps how many messages one check pulls.
	FetchLimit int

	// LeaseTTL bounds how long a crashed check can block a mailbox.
	LeaseTTL time.Duration
}

// DefaultOptions returns the standard monitor pacing.
func DefaultOptions() Options {
	return Options{
		BootstrapLookback: 2 * time.Hour,
		MinInterval:       time.Minute,
		MinLookback:       30 * time.Minute,
		FetchLimit:        50,
		LeaseTTL:          5 * time.Minute,
	}
}

// Monitor coordinates monitoring for all mailboxes. All state lives in the
// repositories; the monitor itself can run in several processes at once, with
// the per-mailbox lease keeping concurrent checks of one mailbox serialized.
type Monitor struct {
	mailboxRepo out.MailboxRepository
	statusRepo  out.MonitorStatusRepository
	msgRepo     out.MessageRepository
	provider    out.MailProviderPort
	cascade     *classify.Cascade
	router      *forwarding.Router
	lease       out.MailboxLease
	opts        Options
	log         *logger.Logger
}

// New creates a mailbox monitor.
func New(
	mailboxRepo out.MailboxRepository,
	statusRepo out.MonitorStatusRepository,
	msgRepo out.MessageRepository,
	provider out.MailProviderPort,
	cascade *classify.Cascade,
	router *forwarding.Router,
	lease out.MailboxLease,
	opts Options,
	log *logger.Logger,
) *Monitor {
	if opts.BootstrapLookback == 0 {
		opts = DefaultOptions()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Monitor{
		mailboxRepo: mailboxRepo,
		statusRepo:  statusRepo,
		msgRepo:     msgRepo,
		provider:    provider,
		cascade:     cascade,
		router:      router,
		lease:       lease,
		opts:        opts,
		log:         log,
	}
}

// Start activates monitoring for a mailbox. Starting an already active
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context, mailboxID int64) (*domain.MonitorStatus, error) {
	status, err := m.statusRepo.GetOrCreate(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	if status.IsActive {
		return status, nil
	}

	now := time.Now().UTC()
	status.IsActive = true
	status.StartedAt = &now
	status.StoppedAt = nil
	if err := m.statusRepo.Update(ctx, status); err != nil {
		return nil, err
	}
	if err := m.mailboxRepo.SetMonitoring(ctx, mailboxID, true); err != nil {
		return nil, err
	}

	m.log.WithField("mailbox_id", mailboxID).Info("monitoring started")
	return status, nil
}

// Stop deactivates monitoring for a mailbox. Stopping an inactive monitor is
// a no-op.
func (m *Monitor) Stop(ctx context.Context, mailboxID int64) (*domain.MonitorStatus, error) {
	status, err := m.statusRepo.GetOrCreate(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	if !status.IsActive {
		return status, nil
	}

	now := time.Now().UTC()
	status.IsActive = false
	status.StoppedAt = &now
	if err := m.statusRepo.Update(ctx, status); err != nil {
		return nil, err
	}
	if err := m.mailboxRepo.SetMonitoring(ctx, mailboxID, false); err != nil {
		return nil, err
	}

	m.log.WithField("mailbox_id", mailboxID).Info("monitoring stopped")
	return status, nil
}

// Status returns the monitor control record for a mailbox.
func (m *Monitor) Status(ctx context.Context, mailboxID int64) (*domain.MonitorStatus, error) {
	return m.statusRepo.GetOrCreate(ctx, mailboxID)
}

// Check runs one fetch/classify/forward pass over a mailbox. Per-message
// failures are counted and logged, never fatal to the batch; only being
// unable to reach the mailbox at all fails the check.
func (m *Monitor) Check(ctx context.Context, mailboxID int64) (*domain.CheckResult, error) {
	acquired, err := m.lease.Acquire(ctx, mailboxID, m.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &domain.CheckResult{
			MailboxID: mailboxID,
			Outcome:   domain.CheckSkipped,
			Reason:    "check already in progress",
		}, nil
	}
	defer func() {
		if err := m.lease.Release(context.WithoutCancel(ctx), mailboxID); err != nil {
			m.log.WithError(err).WithField("mailbox_id", mailboxID).Warn("lease release failed")
		}
	}()

	start := time.Now()
	now := start.UTC()

	status, err := m.statusRepo.GetOrCreate(ctx, mailboxID)
	if err != nil {
		return nil, err
	}

	// A stopped monitor is never checked, not even on demand.
	if !status.IsActive {
		return &domain.CheckResult{
			MailboxID: mailboxID,
			Outcome:   domain.CheckSkipped,
			Reason:    "monitoring is not active",
		}, nil
	}

	// Minimum interval between checks of one mailbox.
	if status.LastCheckAt != nil && now.Sub(*status.LastCheckAt) < m.opts.MinInterval {
		return &domain.CheckResult{
			MailboxID: mailboxID,
			Outcome:   domain.CheckSkipped,
			Reason:    fmt.Sprintf("last check %s ago, minimum interval %s", now.Sub(*status.LastCheckAt).Round(time.Second), m.opts.MinInterval),
		}, nil
	}

	mailbox, err := m.mailboxRepo.GetByID(ctx, mailboxID)
	if err != nil {
		return nil, err
	}

	since := m.fetchWindow(status, now)

	token, err := m.freshToken(ctx, mailbox, now)
	if err != nil {
		m.failCheck(ctx, status, now)
		return &domain.CheckResult{
			MailboxID:  mailboxID,
			Outcome:    domain.CheckFailed,
			Reason:     err.Error(),
			WindowFrom: since,
			Elapsed:    time.Since(start),
		}, nil
	}

	fetched, err := m.provider.FetchSince(ctx, token, mailbox.Email, since, m.opts.FetchLimit)
	if err != nil {
		m.failCheck(ctx, status, now)
		return &domain.CheckResult{
			MailboxID:  mailboxID,
			Outcome:    domain.CheckFailed,
			Reason:     apperr.ProviderError("fetch", err).Error(),
			WindowFrom: since,
			Elapsed:    time.Since(start),
		}, nil
	}

	result := &domain.CheckResult{
		MailboxID:  mailboxID,
		Outcome:    domain.CheckCompleted,
		WindowFrom: since,
		Fetched:    len(fetched),
	}

	// Once the fetch has completed, the current message is always finished:
	// persistence and forwarding run on an uncancelable context, and
	// shutdown is only honored between messages.
	msgCtx := context.WithoutCancel(ctx)
	for i := range fetched {
		if ctx.Err() != nil {
			m.log.WithField("mailbox_id", mailboxID).Warn("check interrupted, remaining messages left for next cycle")
			break
		}
		m.processOne(msgCtx, token, mailbox, &fetched[i], result)
	}

	status.LastCheckAt = &now
	status.LastFoundCount = result.Fetched
	status.TotalChecks++
	status.TotalFetched += int64(result.Fetched)
	status.TotalProcessed += int64(result.Processed)
	status.TotalForwarded += int64(result.Forwarded)
	status.TotalErrors += int64(result.Errors)
	if err := m.statusRepo.Update(msgCtx, status); err != nil {
		m.log.WithError(err).WithField("mailbox_id", mailboxID).Error("updating monitor status failed")
	}

	result.Elapsed = time.Since(start)
	m.log.WithMailbox(mailbox.Email).WithDuration(result.Elapsed).
		WithFields(map[string]any{
			"fetched":   result.Fetched,
			"new":       result.New,
			"processed": result.Processed,
			"forwarded": result.Forwarded,
			"errors":    result.Errors,
		}).
		Info("mailbox check completed")

	return result, nil
}

// RunAll runs one check over every mailbox with monitoring enabled. One
// mailbox failing does not stop the sweep.
func (m *Monitor) RunAll(ctx context.Context) ([]domain.CheckResult, error) {
	mailboxes, err := m.mailboxRepo.ListMonitoring(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]domain.CheckResult, 0, len(mailboxes))
	for _, mb := range mailboxes {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		result, err := m.Check(ctx, mb.ID)
		if err != nil {
			m.log.WithError(err).WithMailbox(mb.Email).Error("mailbox check failed")
			results = append(results, domain.CheckResult{
				MailboxID: mb.ID,
				Outcome:   domain.CheckFailed,
				Reason:    err.Error(),
			})
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// fetchWindow computes the lower bound of the next fetch. The first check
// looks back the bootstrap window; later checks cover the elapsed time since
// the last check, floored so short gaps still overlap the previous window.
func (m *Monitor) fetchWindow(status *domain.MonitorStatus, now time.Time) time.Time {
	if status.LastCheckAt == nil {
		return now.Add(-m.opts.BootstrapLookback)
	}
	lookback := now.Sub(*status.LastCheckAt)
	if lookback < m.opts.MinLookback {
		lookback = m.opts.MinLookback
	}
	return now.Add(-lookback)
}

// freshToken returns a usable access token for the mailbox, refreshing and
// persisting it when expired.
func (m *Monitor) freshToken(ctx context.Context, mailbox *domain.Mailbox, now time.Time) (*oauth2.Token, error) {
	token := &oauth2.Token{
		AccessToken:  mailbox.AccessToken,
		RefreshToken: mailbox.RefreshToken,
	}
	if mailbox.TokenExpiry != nil {
		token.Expiry = *mailbox.TokenExpiry
	}

	if !mailbox.TokenExpired(now) {
		return token, nil
	}

	refreshed, err := m.provider.RefreshToken(ctx, token)
	if err != nil {
		return nil, apperr.OAuthFailed(mailbox.Email, err)
	}

	if err := m.mailboxRepo.UpdateTokens(ctx, mailbox.ID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.Expiry); err != nil {
		m.log.WithError(err).WithMailbox(mailbox.Email).Error("persisting refreshed tokens failed")
	}
	mailbox.AccessToken = refreshed.AccessToken
	mailbox.RefreshToken = refreshed.RefreshToken
	mailbox.TokenExpiry = &refreshed.Expiry

	return refreshed, nil
}

// processOne runs dedup, classification and forwarding for one fetched
// message, accumulating into the check result.
func (m *Monitor) processOne(ctx context.Context, token *oauth2.Token, mailbox *domain.Mailbox, pm *out.ProviderMessage, result *domain.CheckResult) {
	existing, err := m.msgRepo.FindByExternalID(ctx, mailbox.ID, pm.ExternalID)
	if err != nil {
		result.Errors++
		m.log.WithError(err).WithField("message_id", pm.ExternalID).Error("dedup lookup failed")
		return
	}

	var msg *domain.Message
	switch {
	case existing != nil && existing.IsProcessed:
		result.Duplicates++
		return
	case existing != nil:
		// A row left unprocessed by an earlier failed pass. Reuse it so
		// the message gets classified instead of silently dropped.
		m.log.WithField("message_id", pm.ExternalID).Info("retrying unprocessed message")
		msg = existing
	default:
		msg, err = m.msgRepo.Save(ctx, pm.ToDomain(mailbox.ID))
		if err != nil {
			result.Errors++
			m.log.WithError(err).WithField("message_id", pm.ExternalID).Error("saving message failed")
			return
		}
		result.New++
	}

	classification := m.cascade.Classify(ctx, msg)
	msg.ApplyClassification(classification, time.Now().UTC())
	if err := m.msgRepo.UpdateClassification(ctx, msg); err != nil {
		result.Errors++
		m.log.WithError(err).WithField("message_id", pm.ExternalID).Error("persisting classification failed")
		return
	}
	result.Processed++
	if result.ByCategory == nil {
		result.ByCategory = make(map[string]int)
	}
	result.ByCategory[classification.Category]++

	_, forwarded, err := m.router.Route(ctx, token, mailbox, msg, classification)
	if err != nil {
		result.Errors++
		m.log.WithError(err).WithField("message_id", pm.ExternalID).Error("forwarding failed")
		return
	}
	if forwarded {
		if err := m.msgRepo.MarkForwarded(ctx, msg.ID); err != nil {
			m.log.WithError(err).WithField("message_id", pm.ExternalID).Error("marking message forwarded failed")
		}
		result.Forwarded++
	}
}

// failCheck records a failed check on the status counters. The last-check
// time advances so a broken mailbox is retried on normal pacing instead of
// hammering the provider.
func (m *Monitor) failCheck(ctx context.Context, status *domain.MonitorStatus, now time.Time) {
	status.LastCheckAt = &now
	status.TotalChecks++
	status.TotalErrors++
	if err := m.statusRepo.Update(ctx, status); err != nil {
		m.log.WithError(err).Error("updating monitor status failed")
	}
}
