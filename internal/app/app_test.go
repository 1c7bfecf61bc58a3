package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"risklock/internal/account"
	"risklock/internal/behavior"
	"risklock/internal/broker"
	"risklock/internal/config"
	"risklock/internal/monitor"
	"risklock/internal/notify"
	"risklock/internal/risk"
	"risklock/internal/storage/memory"
)

var testNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

type downProvider struct{}

func (downProvider) Name() string { return "down" }

func (downProvider) Connect(context.Context) error { return errors.New("connection refused") }

func (downProvider) AccountInfo(context.Context) (broker.AccountSnapshot, error) {
	return broker.AccountSnapshot{}, errors.New("unreachable")
}

func (downProvider) Trades(context.Context) ([]broker.Trade, error) {
	return nil, errors.New("unreachable")
}

type recordingChannel struct {
	name string

	mu     sync.Mutex
	alerts []notify.Alert
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, _ string, alert notify.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

type stubCoach struct{ calls int }

func (s *stubCoach) Note(context.Context, risk.Report, behavior.Report) (string, error) {
	s.calls++
	return "Cut size before the next entry.", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Database.Driver = "memory"
	cfg.Monitor.Enabled = false
	cfg.Coach.Enabled = false
	return cfg
}

func testConnectors(acct account.Account) (*broker.Connector, error) {
	switch acct.Provider {
	case "demo":
		return broker.NewConnector(broker.NewMockBridge(100000, true, 1), broker.Options{}, nil), nil
	case "down":
		return broker.NewConnector(downProvider{}, broker.Options{}, nil), nil
	default:
		return nil, broker.ErrUnsupportedProvider
	}
}

func createAccount(t *testing.T, store *memory.Store, name, provider string) account.Account {
	t.Helper()
	acct := account.New(name, provider, "")
	acct.OwnerEmail = "trader@example.com"
	if err := store.CreateAccount(context.Background(), &acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func newTestApp(t *testing.T, store *memory.Store, email *recordingChannel, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithConnectorFactory(testConnectors),
		WithChannels(email, nil),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	a, err := New(testConfig(t), nil, store, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestApp_TickEvaluatesAndAggregates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	demo := createAccount(t, store, "demo", "demo")
	createAccount(t, store, "down", "down")
	createAccount(t, store, "bogus", "bogus")

	email := &recordingChannel{name: "email"}
	a := newTestApp(t, store, email)

	summary, err := a.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	a.dispatcher.Wait()

	if len(summary.Accounts) != 1 || summary.Accounts[0].ID != demo.ID {
		t.Fatalf("only the healthy account should be aggregated: %+v", summary.Accounts)
	}
	if summary.TotalBalance != 100000 || summary.TotalEquity != 90800 {
		t.Fatalf("unexpected totals: balance=%v equity=%v", summary.TotalBalance, summary.TotalEquity)
	}
	if len(summary.CorrelationWarnings) != 1 || summary.CorrelationWarnings[0] != "High exposure on XAUUSD (15 lots)." {
		t.Fatalf("unexpected warnings: %v", summary.CorrelationWarnings)
	}

	if email.count() != 1 {
		t.Fatalf("expected one email alert, got %d", email.count())
	}

	stored, err := store.GetAccount(ctx, demo.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if stored.LastStatus != string(risk.StatusCritical) {
		t.Fatalf("last status = %q", stored.LastStatus)
	}
	if stored.LastNotificationAt == nil || !stored.LastNotificationAt.Equal(testNow) {
		t.Fatalf("notification time not recorded: %v", stored.LastNotificationAt)
	}

	trades, err := store.TradesByAccount(ctx, demo.ID)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Ticket != 9999 || trades[0].RiskScore != 75 {
		t.Fatalf("unexpected ledger: %+v", trades)
	}

	audits, err := store.AuditLog(ctx, demo.ID, 10)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(audits) != 1 || audits[0].Action != account.ActionStatusChange {
		t.Fatalf("unexpected audits: %+v", audits)
	}

	evals, err := a.Monitor().ListEvents(ctx, monitor.EventRiskEvaluation, 10)
	if err != nil || len(evals) != 1 {
		t.Fatalf("risk events = %d, err = %v", len(evals), err)
	}
	syncs, err := a.Monitor().ListEvents(ctx, monitor.EventSync, 10)
	if err != nil || len(syncs) != 1 {
		t.Fatalf("sync events = %d, err = %v", len(syncs), err)
	}
	errs, err := a.Monitor().ListEvents(ctx, monitor.EventError, 10)
	if err != nil || len(errs) != 1 {
		t.Fatalf("error events = %d, err = %v", len(errs), err)
	}
	portfolios, err := a.Monitor().ListEvents(ctx, monitor.EventPortfolio, 10)
	if err != nil || len(portfolios) != 1 {
		t.Fatalf("portfolio events = %d, err = %v", len(portfolios), err)
	}

	// 第二轮：持仓已存在，风险评分按手数重算，冷却期内不再告警。
	if _, err := a.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	a.dispatcher.Wait()

	if email.count() != 1 {
		t.Fatalf("cooldown should suppress the second alert, got %d", email.count())
	}
	trades, err = store.TradesByAccount(ctx, demo.ID)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 || trades[0].RiskScore != 30 {
		t.Fatalf("existing oversized trade should score 30: %+v", trades)
	}
	audits, err = store.AuditLog(ctx, demo.ID, 10)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("unchanged status must not add audits, got %d", len(audits))
	}
}

func TestApp_EvaluateAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	demo := createAccount(t, store, "demo", "demo")
	down := createAccount(t, store, "down", "down")

	coach := &stubCoach{}
	a := newTestApp(t, store, &recordingChannel{name: "email"}, WithCoach(coach))

	eval, err := a.EvaluateAccount(ctx, demo.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Risk.Status != risk.StatusCritical {
		t.Fatalf("status = %s", eval.Risk.Status)
	}
	if len(eval.Risk.Violations) != 1 || !strings.HasPrefix(eval.Risk.Violations[0], "Excessive Lot Size: 15 > 10") {
		t.Fatalf("violations = %v", eval.Risk.Violations)
	}
	if eval.Sync.Confidence != broker.ConfidenceLive {
		t.Fatalf("confidence = %s", eval.Sync.Confidence)
	}
	if eval.DailyStats.TradesCount != 1 || eval.DailyStats.DailyProfit != -3450 {
		t.Fatalf("daily stats = %+v", eval.DailyStats)
	}
	if eval.Behavior.CoachNote == "" || coach.calls != 1 {
		t.Fatalf("coach note missing for alerting status")
	}

	degraded, err := a.EvaluateAccount(ctx, down.ID)
	if err != nil {
		t.Fatalf("degraded account should still render a report: %v", err)
	}
	if degraded.Sync.Confidence != broker.ConfidenceStale {
		t.Fatalf("confidence = %s, want STALE", degraded.Sync.Confidence)
	}
	if degraded.Risk.Status != risk.StatusSafe || degraded.Risk.Metrics.DailyLimit != 0 || len(degraded.Risk.Trades) != 0 {
		t.Fatalf("fallback report = %+v", degraded.Risk)
	}
	audits, err := store.AuditLog(ctx, down.ID, 10)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if len(audits) != 0 {
		t.Fatalf("fallback data must not be audited: %+v", audits)
	}

	if _, err := a.EvaluateAccount(ctx, 999); err == nil {
		t.Fatalf("expected error for unknown account")
	}
}

func TestMonitorHandler(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	demo := createAccount(t, store, "demo", "demo")
	a := newTestApp(t, store, &recordingChannel{name: "email"})
	if _, err := a.EvaluateAccount(ctx, demo.ID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	h := newMonitorHandler(a.Monitor(), a.Metrics(), a.logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/events?type=RISK_EVALUATION&limit=5000", nil))
	if rec.Code != 200 {
		t.Fatalf("events status = %d", rec.Code)
	}
	var events []struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Type != string(monitor.EventRiskEvaluation) {
		t.Fatalf("unexpected events: %+v", events)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "risklock_risk_evaluations_total") {
		t.Fatalf("metrics output unexpected (%d):\n%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz unexpected: %d %s", rec.Code, rec.Body.String())
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, config.DatabaseConfig{Driver: "memory"}, nil)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	_ = store.Close()

	store, err = OpenStore(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir() + "/risk.db"}, nil)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	_ = store.Close()

	if _, err := OpenStore(ctx, config.DatabaseConfig{Driver: "oracle"}, nil); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestEventsQuery(t *testing.T) {
	cases := []struct {
		url       string
		wantType  monitor.EventType
		wantLimit int
	}{
		{"/events", "", 200},
		{"/events?limit=5&type=Sync", monitor.EventSync, 5},
		{"/events?limit=5000", "", 1000},
		{"/events?limit=-3", "", 200},
		{"/events?limit=abc&type=%20error%20", monitor.EventError, 200},
	}
	for _, tc := range cases {
		typ, limit := eventsQuery(httptest.NewRequest("GET", tc.url, nil))
		if typ != tc.wantType || limit != tc.wantLimit {
			t.Fatalf("%s: got (%q, %d), want (%q, %d)", tc.url, typ, limit, tc.wantType, tc.wantLimit)
		}
	}
}
