package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"risklock/internal/config"
)

type stubProvider struct {
	connectErr error
	infoErr    error
	tradesErr  error
	delay      time.Duration
	snapshot   AccountSnapshot
	trades     []Trade
	connects   int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Connect(ctx context.Context) error {
	s.connects++
	return s.connectErr
}

func (s *stubProvider) AccountInfo(ctx context.Context) (AccountSnapshot, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return AccountSnapshot{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.snapshot, s.infoErr
}

func (s *stubProvider) Trades(ctx context.Context) ([]Trade, error) {
	return s.trades, s.tradesErr
}

func TestConnector_StartsPaused(t *testing.T) {
	c := NewConnector(&stubProvider{}, Options{}, nil)
	if got := c.ConfidenceStatus(); got != ConfidencePaused {
		t.Fatalf("expected PAUSED, got %s", got)
	}
	if _, ok := c.LastSync(); ok {
		t.Errorf("expected no last sync before first fetch")
	}
}

func TestConnector_SuccessfulFetchIsLive(t *testing.T) {
	stub := &stubProvider{
		snapshot: AccountSnapshot{Balance: 100000, Equity: 99000, Currency: "USD"},
		trades:   []Trade{{Ticket: 1, Symbol: "EURUSD", Volume: 1}},
	}
	c := NewConnector(stub, Options{}, nil)

	snapshot, trades := c.Snapshot(context.Background())
	if snapshot.Equity != 99000 {
		t.Errorf("unexpected equity %f", snapshot.Equity)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if got := c.ConfidenceStatus(); got != ConfidenceLive {
		t.Errorf("expected LIVE, got %s", got)
	}
	if _, ok := c.LastSync(); !ok {
		t.Errorf("expected last sync to be set")
	}
	if stub.connects != 1 {
		t.Errorf("expected a single connect, got %d", stub.connects)
	}
}

func TestConnector_TimeoutDegradesAndFallsBack(t *testing.T) {
	stub := &stubProvider{
		delay:    200 * time.Millisecond,
		snapshot: AccountSnapshot{Balance: 1, Equity: 1},
	}
	c := NewConnector(stub, Options{FetchTimeout: 10 * time.Millisecond}, nil)

	snapshot := c.AccountInfo(context.Background())
	if snapshot != FallbackSnapshot() {
		t.Errorf("expected fallback snapshot, got %+v", snapshot)
	}
	if snapshot.Currency != "USD" || snapshot.Balance != 0 {
		t.Errorf("fallback must be zero valued USD, got %+v", snapshot)
	}
	if got := c.ConfidenceStatus(); got != ConfidenceDegraded {
		t.Errorf("expected DEGRADED, got %s", got)
	}
}

func TestConnector_ErrorMarksStale(t *testing.T) {
	stub := &stubProvider{tradesErr: errors.New("boom")}
	c := NewConnector(stub, Options{}, nil)

	trades := c.Trades(context.Background())
	if trades == nil || len(trades) != 0 {
		t.Errorf("expected empty non-nil trade list, got %v", trades)
	}
	if got := c.ConfidenceStatus(); got != ConfidenceStale {
		t.Errorf("expected STALE, got %s", got)
	}
}

func TestConnector_SnapshotKeepsWorstOutcome(t *testing.T) {
	stub := &stubProvider{
		delay:     50 * time.Millisecond,
		snapshot:  AccountSnapshot{Balance: 100000, Equity: 100000, Currency: "USD"},
		tradesErr: errors.New("boom"),
	}
	c := NewConnector(stub, Options{}, nil)

	snapshot, trades := c.Snapshot(context.Background())
	if snapshot.Balance != 100000 {
		t.Errorf("successful account info should be kept, got %+v", snapshot)
	}
	if trades == nil || len(trades) != 0 {
		t.Errorf("expected empty non-nil trade list, got %v", trades)
	}
	if got := c.ConfidenceStatus(); got != ConfidenceStale {
		t.Fatalf("a late account info success must not restore LIVE, got %s", got)
	}
}

func TestConnector_SnapshotPrefersStaleOverDegraded(t *testing.T) {
	stub := &stubProvider{
		delay:     200 * time.Millisecond,
		tradesErr: errors.New("boom"),
	}
	c := NewConnector(stub, Options{FetchTimeout: 10 * time.Millisecond}, nil)

	c.Snapshot(context.Background())
	if got := c.ConfidenceStatus(); got != ConfidenceStale {
		t.Fatalf("expected STALE, got %s", got)
	}
}

func TestConnector_DegradedUpstreamOnConnect(t *testing.T) {
	stub := &stubProvider{connectErr: ErrDegraded}
	c := NewConnector(stub, Options{}, nil)

	if c.Connect(context.Background()) {
		t.Fatalf("expected connect to fail")
	}
	if got := c.ConfidenceStatus(); got != ConfidenceDegraded {
		t.Errorf("expected DEGRADED, got %s", got)
	}
	if snapshot := c.AccountInfo(context.Background()); snapshot != FallbackSnapshot() {
		t.Errorf("expected fallback snapshot after failed connect")
	}
}

func TestConnector_ExecutionAlwaysRejected(t *testing.T) {
	c := NewConnector(&stubProvider{}, Options{}, nil)
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"place":  func() error { return c.PlaceOrder(ctx, "EURUSD", 1.0) },
		"modify": func() error { return c.ModifyOrder(ctx, int64(1)) },
		"close":  func() error { return c.ClosePosition(ctx, int64(1)) },
	} {
		if err := call(); !errors.Is(err, ErrReadOnly) {
			t.Errorf("%s: expected ErrReadOnly, got %v", name, err)
		}
	}
}

func TestSessionAt(t *testing.T) {
	cases := []struct {
		hour int
		want Session
	}{
		{0, SessionAsia},
		{7, SessionAsia},
		{8, SessionLondon},
		{14, SessionLondon},
		{15, SessionLondon},
		{16, SessionNewYork},
		{21, SessionNewYork},
		{22, SessionAsia},
	}
	for _, tc := range cases {
		ts := time.Date(2024, 3, 1, tc.hour, 30, 0, 0, time.UTC)
		if got := SessionAt(ts); got != tc.want {
			t.Errorf("hour %d: expected %s, got %s", tc.hour, tc.want, got)
		}
	}
}

func TestNewProvider_RejectsUnknownKind(t *testing.T) {
	_, err := NewProvider("ctrader", "", config.BrokerConfig{}, nil)
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewProvider_MetaAPIRequiresToken(t *testing.T) {
	if _, err := NewProvider(KindMetaAPI, "abc", config.BrokerConfig{}, nil); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestMockBridge_DemoMode(t *testing.T) {
	bridge := NewMockBridge(100000, true, 1)
	ctx := context.Background()

	info, err := bridge.AccountInfo(ctx)
	if err != nil {
		t.Fatalf("AccountInfo returned error: %v", err)
	}
	if info.Equity != 90800 || info.Profit != -9200 {
		t.Errorf("unexpected demo snapshot %+v", info)
	}

	trades, err := bridge.Trades(ctx)
	if err != nil {
		t.Fatalf("Trades returned error: %v", err)
	}
	if len(trades) != 1 || trades[0].Ticket != 9999 || trades[0].Volume != 15 {
		t.Errorf("unexpected demo trades %+v", trades)
	}
}

func TestMockBridge_NormalModeIsSeeded(t *testing.T) {
	a := NewMockBridge(100000, false, 42)
	b := NewMockBridge(100000, false, 42)
	ctx := context.Background()

	ta, _ := a.Trades(ctx)
	tb, _ := b.Trades(ctx)
	if len(ta) < 1 || len(ta) > 3 {
		t.Fatalf("expected 1-3 trades, got %d", len(ta))
	}
	if len(ta) != len(tb) {
		t.Fatalf("same seed must produce same trade count")
	}
	for i := range ta {
		if ta[i].Symbol != tb[i].Symbol || ta[i].Volume != tb[i].Volume {
			t.Errorf("trade %d differs between seeded bridges", i)
		}
	}
}
