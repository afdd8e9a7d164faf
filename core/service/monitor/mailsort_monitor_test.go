package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classify"
	"mailsort_server/core/service/forwarding"
)

// =============================================================================
// Mocks
// =============================================================================

type mockMailboxRepo struct {
	mailboxes     map[int64]*domain.Mailbox
	tokensUpdated int
}

func (r *mockMailboxRepo) GetByID(ctx context.Context, id int64) (*domain.Mailbox, error) {
	mb, ok := r.mailboxes[id]
	if !ok {
		return nil, fmt.Errorf("mailbox %d not found", id)
	}
	return mb, nil
}

func (r *mockMailboxRepo) GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error) {
	for _, mb := range r.mailboxes {
		if mb.Email == email {
			return mb, nil
		}
	}
	return nil, errors.New("not found")
}

func (r *mockMailboxRepo) ListMonitoring(ctx context.Context) ([]domain.Mailbox, error) {
	var out []domain.Mailbox
	for _, mb := range r.mailboxes {
		if mb.IsMonitoring {
			out = append(out, *mb)
		}
	}
	return out, nil
}

func (r *mockMailboxRepo) SetMonitoring(ctx context.Context, id int64, monitoring bool) error {
	if mb, ok := r.mailboxes[id]; ok {
		mb.IsMonitoring = monitoring
	}
	return nil
}

func (r *mockMailboxRepo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	r.tokensUpdated++
	if mb, ok := r.mailboxes[id]; ok {
		mb.AccessToken = accessToken
		mb.RefreshToken = refreshToken
		mb.TokenExpiry = &expiry
	}
	return nil
}

type mockStatusRepo struct {
	statuses map[int64]*domain.MonitorStatus
}

func (r *mockStatusRepo) GetOrCreate(ctx context.Context, mailboxID int64) (*domain.MonitorStatus, error) {
	if s, ok := r.statuses[mailboxID]; ok {
		return s, nil
	}
	s := &domain.MonitorStatus{ID: mailboxID, MailboxID: mailboxID}
	r.statuses[mailboxID] = s
	return s, nil
}

func (r *mockStatusRepo) Update(ctx context.Context, status *domain.MonitorStatus) error {
	r.statuses[status.MailboxID] = status
	return nil
}

type mockMessageRepo struct {
	existing  map[string]*domain.Message // "mailboxID/externalID"
	saved     []*domain.Message
	forwarded []int64
	nextID    int64
}

func msgKey(mailboxID int64, messageID string) string {
	return fmt.Sprintf("%d/%s", mailboxID, messageID)
}

func (r *mockMessageRepo) Save(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	r.nextID++
	msg.ID = r.nextID
	r.existing[msgKey(msg.MailboxID, msg.MessageID)] = msg
	r.saved = append(r.saved, msg)
	return msg, nil
}

func (r *mockMessageRepo) FindByExternalID(ctx context.Context, mailboxID int64, messageID string) (*domain.Message, error) {
	return r.existing[msgKey(mailboxID, messageID)], nil
}

func (r *mockMessageRepo) UpdateClassification(ctx context.Context, msg *domain.Message) error {
	return nil
}

func (r *mockMessageRepo) MarkForwarded(ctx context.Context, id int64) error {
	r.forwarded = append(r.forwarded, id)
	return nil
}

func (r *mockMessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	for _, m := range r.saved {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (r *mockMessageRepo) ListRecent(ctx context.Context, mailboxID int64, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range r.saved {
		if m.MailboxID == mailboxID {
			out = append(out, *m)
		}
	}
	return out, nil
}

type mockProvider struct {
	messages   []out.ProviderMessage
	fetchErr   error
	refreshErr error

	fetchSince   time.Time
	fetchCalls   int
	refreshCalls int
	forwardCalls int
}

func (p *mockProvider) GetProviderType() string { return "graph" }

func (p *mockProvider) RefreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &oauth2.Token{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (p *mockProvider) ValidateToken(ctx context.Context, token *oauth2.Token) (bool, error) {
	return true, nil
}

func (p *mockProvider) FetchSince(ctx context.Context, token *oauth2.Token, mailbox string, since time.Time, limit int) ([]out.ProviderMessage, error) {
	p.fetchCalls++
	p.fetchSince = since
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return p.messages, nil
}

func (p *mockProvider) ForwardMessage(ctx context.Context, token *oauth2.Token, mailbox, externalID string, to []string, comment string) error {
	p.forwardCalls++
	return nil
}

// stubStage is a fixed-answer classification stage.
type stubStage struct {
	category   string
	confidence float64
	onClassify func()
}

func (s *stubStage) Name() string           { return "rule" }
func (s *stubStage) Type() domain.StageType { return domain.StageRule }
func (s *stubStage) Threshold() float64     { return 1.0 }
func (s *stubStage) Classify(ctx context.Context, msg *domain.Message) (*classify.StageResult, error) {
	if s.onClassify != nil {
		s.onClassify()
	}
	return &classify.StageResult{Category: s.category, Confidence: s.confidence}, nil
}

type stubForwardingRepo struct {
	rules []domain.ForwardingRule
}

func (r *stubForwardingRepo) ListActiveForEmailType(ctx context.Context, emailType string) ([]domain.ForwardingRule, error) {
	var out []domain.ForwardingRule
	for _, rule := range r.rules {
		if rule.HandlesEmailType(emailType) {
			out = append(out, rule)
		}
	}
	return out, nil
}

type stubLogRepo struct{ entries int }

func (r *stubLogRepo) Save(ctx context.Context, entry *domain.ForwardingLogEntry) error {
	r.entries++
	return nil
}

func (r *stubLogRepo) ListByMessage(ctx context.Context, messageID int64) ([]domain.ForwardingLogEntry, error) {
	return nil, nil
}

type identityMapper struct{}

func (identityMapper) EmailTypes(ctx context.Context, category string) ([]string, error) {
	return []string{category}, nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	monitor     *Monitor
	mailboxRepo *mockMailboxRepo
	statusRepo  *mockStatusRepo
	msgRepo     *mockMessageRepo
	provider    *mockProvider
	lease       *LocalLease
	stage       *stubStage
}

// startMonitoring activates mailbox 1, the precondition for any check.
func (f *fixture) startMonitoring(t *testing.T) {
	t.Helper()
	if _, err := f.monitor.Start(context.Background(), 1); err != nil {
		t.Fatalf("starting monitor: %v", err)
	}
}

func testOptions() Options {
	return Options{
		BootstrapLookback: 2 * time.Hour,
		MinInterval:       time.Minute,
		MinLookback:       30 * time.Minute,
		FetchLimit:        50,
		LeaseTTL:          5 * time.Minute,
	}
}

// newFixture builds a monitor whose stage answers category/confidence and
// whose forwarding rules are given.
func newFixture(category string, confidence float64, forwardRules ...domain.ForwardingRule) *fixture {
	validExpiry := time.Now().Add(time.Hour)
	mailboxRepo := &mockMailboxRepo{mailboxes: map[int64]*domain.Mailbox{
		1: {
			ID: 1, Email: "inbox@corp.example.com", IsMonitoring: true,
			AccessToken: "access", RefreshToken: "refresh", TokenExpiry: &validExpiry,
		},
	}}
	statusRepo := &mockStatusRepo{statuses: map[int64]*domain.MonitorStatus{}}
	msgRepo := &mockMessageRepo{existing: map[string]*domain.Message{}}
	provider := &mockProvider{}
	lease := NewLocalLease()

	stage := &stubStage{category: category, confidence: confidence}
	registry := classify.NewRegistry(map[domain.StageType]classify.StageFactory{
		domain.StageRule: func() (classify.Stage, error) { return stage, nil },
	}, nil)
	cascade := classify.NewCascade(registry, nil)

	router := forwarding.NewRouter(
		&stubForwardingRepo{rules: forwardRules},
		&stubLogRepo{},
		identityMapper{},
		provider,
		nil,
		"fwd",
		nil,
	)

	return &fixture{
		monitor:     New(mailboxRepo, statusRepo, msgRepo, provider, cascade, router, lease, testOptions(), nil),
		mailboxRepo: mailboxRepo,
		statusRepo:  statusRepo,
		msgRepo:     msgRepo,
		provider:    provider,
		lease:       lease,
		stage:       stage,
	}
}

func providerMessage(id string) out.ProviderMessage {
	return out.ProviderMessage{
		ExternalID: id,
		Subject:    "subject " + id,
		Sender:     "sender@example.com",
		Body:       "body",
		ReceivedAt: time.Now().Add(-10 * time.Minute),
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	ctx := context.Background()

	status, err := f.monitor.Start(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.IsActive || status.StartedAt == nil {
		t.Error("start did not activate the monitor")
	}
	firstStart := status.StartedAt

	// Second start is a no-op.
	status, err = f.monitor.Start(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.StartedAt != firstStart {
		t.Error("restarting an active monitor must not touch StartedAt")
	}

	status, err = f.monitor.Stop(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.IsActive || status.StoppedAt == nil {
		t.Error("stop did not deactivate the monitor")
	}
	if f.mailboxRepo.mailboxes[1].IsMonitoring {
		t.Error("stop did not clear the mailbox monitoring flag")
	}
}

func TestCheckBootstrapWindow(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	f.provider.messages = []out.ProviderMessage{providerMessage("m1")}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckCompleted {
		t.Fatalf("outcome = %s, want completed (%s)", result.Outcome, result.Reason)
	}

	wantSince := time.Now().Add(-2 * time.Hour)
	if diff := f.provider.fetchSince.Sub(wantSince); diff < -time.Minute || diff > time.Minute {
		t.Errorf("first check window = %v, want about 2h back", f.provider.fetchSince)
	}

	status := f.statusRepo.statuses[1]
	if status.LastCheckAt == nil {
		t.Error("check did not record LastCheckAt")
	}
	if status.TotalChecks != 1 || status.TotalFetched != 1 {
		t.Errorf("counters = checks %d fetched %d, want 1/1", status.TotalChecks, status.TotalFetched)
	}
	if status.LastFoundCount != 1 {
		t.Errorf("last found count = %d, want 1", status.LastFoundCount)
	}
}

func TestCheckInactiveMonitorIsSkipped(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.provider.messages = []out.ProviderMessage{providerMessage("m1")}

	// Monitoring was never started for this mailbox.
	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckSkipped {
		t.Errorf("outcome = %s, want skipped", result.Outcome)
	}
	if f.provider.fetchCalls != 0 {
		t.Errorf("provider fetch calls = %d, want 0", f.provider.fetchCalls)
	}
	if result.Processed != 0 || len(f.msgRepo.saved) != 0 {
		t.Errorf("processed = %d, saved = %d, want 0/0", result.Processed, len(f.msgRepo.saved))
	}
}

func TestCheckRecordsLastFoundCount(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	f.provider.messages = []out.ProviderMessage{providerMessage("m1"), providerMessage("m2")}

	if _, err := f.monitor.Check(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.statusRepo.statuses[1].LastFoundCount; got != 2 {
		t.Errorf("last found count = %d, want 2", got)
	}

	// An empty fetch overwrites the count with zero.
	f.provider.messages = nil
	last := time.Now().UTC().Add(-time.Hour)
	f.statusRepo.statuses[1].LastCheckAt = &last

	if _, err := f.monitor.Check(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.statusRepo.statuses[1].LastFoundCount; got != 0 {
		t.Errorf("last found count after empty fetch = %d, want 0", got)
	}
}

func TestCheckElapsedWindowWithFloor(t *testing.T) {
	tests := []struct {
		name         string
		sinceLast    time.Duration
		wantLookback time.Duration
	}{
		{"short gap floored to 30m", 5 * time.Minute, 30 * time.Minute},
		{"long gap covered fully", 3 * time.Hour, 3 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(domain.CategoryUnclassified, 0.0)
			last := time.Now().UTC().Add(-tt.sinceLast)
			f.statusRepo.statuses[1] = &domain.MonitorStatus{MailboxID: 1, IsActive: true, LastCheckAt: &last}

			result, err := f.monitor.Check(context.Background(), 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Outcome != domain.CheckCompleted {
				t.Fatalf("outcome = %s, want completed (%s)", result.Outcome, result.Reason)
			}

			wantSince := time.Now().Add(-tt.wantLookback)
			if diff := f.provider.fetchSince.Sub(wantSince); diff < -time.Minute || diff > time.Minute {
				t.Errorf("window = %v, want about %v back", f.provider.fetchSince, tt.wantLookback)
			}
		})
	}
}

func TestCheckMinIntervalSkip(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	last := time.Now().UTC().Add(-10 * time.Second)
	f.statusRepo.statuses[1] = &domain.MonitorStatus{MailboxID: 1, IsActive: true, LastCheckAt: &last}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckSkipped {
		t.Errorf("outcome = %s, want skipped", result.Outcome)
	}
	if f.provider.fetchCalls != 0 {
		t.Errorf("provider fetch calls = %d, want 0", f.provider.fetchCalls)
	}
}

func TestCheckLeaseHeldSkips(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	if ok, _ := f.lease.Acquire(context.Background(), 1, time.Minute); !ok {
		t.Fatal("could not pre-acquire lease")
	}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckSkipped {
		t.Errorf("outcome = %s, want skipped", result.Outcome)
	}
	if result.Reason != "check already in progress" {
		t.Errorf("reason = %q, want check already in progress", result.Reason)
	}
}

func TestCheckReleasesLease(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)

	if _, err := f.monitor.Check(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Completed check must leave the lease free for the next pass.
	ok, err := f.lease.Acquire(context.Background(), 1, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("lease still held after check completed")
	}
}

func TestCheckDeduplicatesProcessedMessages(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	oldProviderMsg := providerMessage("old")
	old := oldProviderMsg.ToDomain(1)
	old.ID = 99
	old.IsProcessed = true
	f.msgRepo.existing[msgKey(1, "old")] = old
	f.provider.messages = []out.ProviderMessage{
		providerMessage("old"),
		providerMessage("new"),
	}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fetched != 2 {
		t.Errorf("fetched = %d, want 2", result.Fetched)
	}
	if result.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", result.Duplicates)
	}
	if result.New != 1 {
		t.Errorf("new = %d, want 1", result.New)
	}
	if len(f.msgRepo.saved) != 1 || f.msgRepo.saved[0].MessageID != "new" {
		t.Errorf("saved messages = %v, want just the new one", f.msgRepo.saved)
	}
}

func TestCheckRetriesUnprocessedMessage(t *testing.T) {
	f := newFixture("purchase", 1.0)
	f.startMonitoring(t)

	// A row left behind by an earlier pass that failed before classifying.
	staleProviderMsg := providerMessage("m1")
	stale := staleProviderMsg.ToDomain(1)
	stale.ID = 99
	f.msgRepo.existing[msgKey(1, "m1")] = stale
	f.provider.messages = []out.ProviderMessage{providerMessage("m1")}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1: unprocessed message must be retried", result.Processed)
	}
	if result.Duplicates != 0 {
		t.Errorf("duplicates = %d, want 0", result.Duplicates)
	}
	if result.New != 0 || len(f.msgRepo.saved) != 0 {
		t.Errorf("new = %d, saved = %d, want 0/0 (existing row is reused)", result.New, len(f.msgRepo.saved))
	}
	if !stale.IsProcessed || stale.Category == nil || *stale.Category != "purchase" {
		t.Errorf("retried message = %+v, want processed purchase", stale)
	}
}

func TestCheckStopsBetweenMessagesOnShutdown(t *testing.T) {
	f := newFixture("purchase", 1.0)
	f.startMonitoring(t)
	f.provider.messages = []out.ProviderMessage{
		providerMessage("m1"),
		providerMessage("m2"),
	}

	// Shutdown arrives while the first message is being classified. The
	// message in flight still finishes and persists; the second is left
	// for the next cycle.
	ctx, cancel := context.WithCancel(context.Background())
	f.stage.onClassify = cancel

	result, err := f.monitor.Check(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1", result.Processed)
	}
	if len(f.msgRepo.saved) != 1 {
		t.Fatalf("saved = %d, want 1 (second message waits for next cycle)", len(f.msgRepo.saved))
	}
	if !f.msgRepo.saved[0].IsProcessed {
		t.Error("in-flight message must be fully persisted despite shutdown")
	}
	if f.statusRepo.statuses[1].LastCheckAt == nil {
		t.Error("status must still be recorded after an interrupted check")
	}
}

func TestCheckRefreshesExpiredToken(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	expired := time.Now().Add(-time.Hour)
	f.mailboxRepo.mailboxes[1].TokenExpiry = &expired

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckCompleted {
		t.Fatalf("outcome = %s, want completed (%s)", result.Outcome, result.Reason)
	}
	if f.provider.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.provider.refreshCalls)
	}
	if f.mailboxRepo.tokensUpdated != 1 {
		t.Errorf("token updates persisted = %d, want 1", f.mailboxRepo.tokensUpdated)
	}
	if f.mailboxRepo.mailboxes[1].AccessToken != "refreshed-access" {
		t.Errorf("access token = %q, want refreshed-access", f.mailboxRepo.mailboxes[1].AccessToken)
	}
}

func TestCheckRefreshFailureFailsCheck(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	expired := time.Now().Add(-time.Hour)
	f.mailboxRepo.mailboxes[1].TokenExpiry = &expired
	f.provider.refreshErr = errors.New("invalid_grant")

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckFailed {
		t.Errorf("outcome = %s, want failed", result.Outcome)
	}

	// Failed checks still advance pacing so a broken mailbox is not hammered.
	status := f.statusRepo.statuses[1]
	if status.LastCheckAt == nil {
		t.Error("failed check did not advance LastCheckAt")
	}
	if status.TotalErrors != 1 {
		t.Errorf("total errors = %d, want 1", status.TotalErrors)
	}
}

func TestCheckFetchFailureFailsCheck(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	f.startMonitoring(t)
	f.provider.fetchErr = errors.New("503 service unavailable")

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != domain.CheckFailed {
		t.Errorf("outcome = %s, want failed", result.Outcome)
	}
	if f.statusRepo.statuses[1].TotalChecks != 1 {
		t.Errorf("total checks = %d, want 1", f.statusRepo.statuses[1].TotalChecks)
	}
}

func TestCheckClassifiesAndForwards(t *testing.T) {
	rule := domain.ForwardingRule{
		ID: 1, Name: "purchase desk", RuleType: domain.RuleTypeLoadBalanced, IsActive: true,
		EmailTypes: []string{"purchase"},
		Addresses:  []domain.ForwardingAddress{{ID: 1, Email: "sales@corp.example.com", IsActive: true}},
	}
	f := newFixture("purchase", 1.0, rule)
	f.startMonitoring(t)
	f.provider.messages = []out.ProviderMessage{providerMessage("m1")}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1", result.Processed)
	}
	if result.Forwarded != 1 {
		t.Errorf("forwarded = %d, want 1", result.Forwarded)
	}
	if result.ByCategory["purchase"] != 1 {
		t.Errorf("by_category[purchase] = %d, want 1", result.ByCategory["purchase"])
	}
	if f.provider.forwardCalls != 1 {
		t.Errorf("provider forward calls = %d, want 1", f.provider.forwardCalls)
	}
	if len(f.msgRepo.forwarded) != 1 {
		t.Errorf("messages marked forwarded = %d, want 1", len(f.msgRepo.forwarded))
	}

	saved := f.msgRepo.saved[0]
	if !saved.IsProcessed || saved.Category == nil || *saved.Category != "purchase" {
		t.Errorf("saved message classification = %+v, want processed purchase", saved)
	}
	if f.statusRepo.statuses[1].TotalForwarded != 1 {
		t.Errorf("total forwarded = %d, want 1", f.statusRepo.statuses[1].TotalForwarded)
	}
}

func TestCheckUnclassifiedIsNotForwarded(t *testing.T) {
	rule := domain.ForwardingRule{
		ID: 1, Name: "catch all", RuleType: domain.RuleTypeBroadcast, IsActive: true,
		EmailTypes: []string{domain.CategoryUnclassified},
		Addresses:  []domain.ForwardingAddress{{ID: 1, Email: "all@corp.example.com", IsActive: true}},
	}
	f := newFixture(domain.CategoryUnclassified, 0.0, rule)
	f.startMonitoring(t)
	f.provider.messages = []out.ProviderMessage{providerMessage("m1")}

	result, err := f.monitor.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1 (unclassified is still persisted)", result.Processed)
	}
	if result.Forwarded != 0 || f.provider.forwardCalls != 0 {
		t.Errorf("forwarded = %d, provider calls = %d, want 0/0", result.Forwarded, f.provider.forwardCalls)
	}
}

func TestRunAllSweepsMonitoredMailboxes(t *testing.T) {
	f := newFixture(domain.CategoryUnclassified, 0.0)
	validExpiry := time.Now().Add(time.Hour)
	f.mailboxRepo.mailboxes[2] = &domain.Mailbox{
		ID: 2, Email: "second@corp.example.com", IsMonitoring: true,
		AccessToken: "access", TokenExpiry: &validExpiry,
	}
	f.mailboxRepo.mailboxes[3] = &domain.Mailbox{
		ID: 3, Email: "paused@corp.example.com", IsMonitoring: false,
	}
	f.startMonitoring(t)
	if _, err := f.monitor.Start(context.Background(), 2); err != nil {
		t.Fatalf("starting monitor: %v", err)
	}

	results, err := f.monitor.RunAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2 (mailbox 3 is not monitoring)", len(results))
	}
	for _, r := range results {
		if r.Outcome != domain.CheckCompleted {
			t.Errorf("mailbox %d outcome = %s, want completed (%s)", r.MailboxID, r.Outcome, r.Reason)
		}
	}
}

func TestLocalLease(t *testing.T) {
	lease := NewLocalLease()
	ctx := context.Background()

	ok, err := lease.Acquire(ctx, 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v/%v, want true/nil", ok, err)
	}

	ok, _ = lease.Acquire(ctx, 1, time.Minute)
	if ok {
		t.Error("second acquire succeeded while lease held")
	}

	// A different mailbox is independent.
	ok, _ = lease.Acquire(ctx, 2, time.Minute)
	if !ok {
		t.Error("lease for another mailbox should be free")
	}

	if err := lease.Release(ctx, 1); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = lease.Acquire(ctx, 1, time.Minute)
	if !ok {
		t.Error("acquire after release failed")
	}
}

func TestLocalLeaseExpires(t *testing.T) {
	lease := NewLocalLease()
	ctx := context.Background()

	if ok, _ := lease.Acquire(ctx, 1, time.Millisecond); !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(5 * time.Millisecond)

	ok, _ := lease.Acquire(ctx, 1, time.Minute)
	if !ok {
		t.Error("expired lease should be reacquirable")
	}
}
