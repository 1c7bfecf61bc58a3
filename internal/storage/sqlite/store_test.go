package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risklock/internal/account"
	"risklock/internal/config"
	"risklock/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "risklock.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := account.New("e8-200k", "metaapi", "acc-123")
	acct.OwnerEmail = "trader@example.com"
	acct.Tier = account.TierPro
	acct.ChatAlertsEnabled = true
	acct.ChatTarget = "123456"
	require.NoError(t, s.CreateAccount(ctx, &acct))
	require.NotZero(t, acct.ID)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "e8-200k", got.Name)
	assert.Equal(t, account.TierPro, got.Tier)
	assert.True(t, got.IsActive)
	assert.True(t, got.ChatAlertsEnabled)
	assert.Equal(t, account.DefaultRules(), got.Rules)
	assert.Nil(t, got.LastNotificationAt)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkNotified(ctx, acct.ID, at))
	got, err = s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNotificationAt)
	assert.True(t, got.LastNotificationAt.Equal(at))

	_, err = s.GetAccount(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ListActiveAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := account.New("active", "mock", "")
	inactive := account.New("inactive", "mock", "")
	inactive.IsActive = false
	require.NoError(t, s.CreateAccount(ctx, &active))
	require.NoError(t, s.CreateAccount(ctx, &inactive))

	list, err := s.ListAccounts(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "active", list[0].Name)

	all, err := s.ListAccounts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_LedgerKeepsSnapshotLink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := account.New("ledger", "mock", "")
	require.NoError(t, s.CreateAccount(ctx, &acct))
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	snap := account.RuleSnapshot{AccountID: acct.ID, Rules: acct.Rules, CreatedAt: now}
	require.NoError(t, tx.InsertRuleSnapshot(ctx, &snap))
	trade := storage.TradeRecord{
		AccountID: acct.ID, Ticket: 1001, Symbol: "XAUUSD", Side: "buy", Volume: 2, OpenPrice: 2040,
		Profit: -50, OpenTime: now, Session: "London", RiskScore: 75, RuleSnapshotID: &snap.ID,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, tx.InsertTrade(ctx, &trade))
	require.NoError(t, tx.Commit())

	tx, err = s.BeginTx(ctx)
	require.NoError(t, err)
	existing, err := tx.TradeByTicket(ctx, acct.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, 75, existing.RiskScore)
	_, err = tx.TradeByTicket(ctx, acct.ID, 2002)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, tx.UpdateTrade(ctx, acct.ID, 1001, 125, 90, now.Add(time.Minute)))
	err = tx.InsertTrade(ctx, &storage.TradeRecord{AccountID: acct.ID, Ticket: 1001, Symbol: "XAUUSD", Side: "buy", Session: "London"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	require.NoError(t, tx.Rollback())

	trades, err := s.TradesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, -50.0, trades[0].Profit, "rolled back update must not persist")
	require.NotNil(t, trades[0].RuleSnapshotID)

	stored, err := s.RuleSnapshot(ctx, *trades[0].RuleSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, acct.Rules, stored.Rules)
	assert.True(t, trades[0].OpenTime.Equal(now))
}

func TestStore_UpdateRulesWritesAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := account.New("audit", "mock", "")
	require.NoError(t, s.CreateAccount(ctx, &acct))

	preset := "FTMO"
	updated, changed, err := storage.UpdateRules(ctx, s, acct.ID, account.RuleUpdate{PresetName: &preset}, account.BuiltinPresets(), time.Now())
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "FTMO", updated.Rules.PresetName)
	assert.False(t, updated.Rules.NewsTradingAllowed)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Rules, got.Rules)

	logs, err := s.AuditLog(ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t,
		`{"news_trading_allowed":{"old":true,"new":false},"preset_name":{"old":null,"new":"FTMO"}}`,
		string(logs[0].Details))
}

func TestStore_Events(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, storage.Event{Type: "risk_evaluation", Payload: []byte(`{"status":"safe"}`)}))
	require.NoError(t, s.AppendEvent(ctx, storage.Event{Type: "error", Payload: []byte(`{"message":"x"}`)}))

	events, err := s.ListEvents(ctx, "error", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"message":"x"}`, string(events[0].Payload))
}
