package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risklock/internal/account"
	"risklock/internal/storage"
)

func createAccount(t *testing.T, s *Store) account.Account {
	t.Helper()
	acct := account.New("ftmo-100k", "mock", "")
	require.NoError(t, s.CreateAccount(context.Background(), &acct))
	return acct
}

func TestStore_TradeReconciliationCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := createAccount(t, s)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	snap := account.RuleSnapshot{AccountID: acct.ID, Rules: acct.Rules, CreatedAt: time.Now()}
	require.NoError(t, tx.InsertRuleSnapshot(ctx, &snap))

	trade := storage.TradeRecord{AccountID: acct.ID, Ticket: 42, Symbol: "EURUSD", RiskScore: 75, RuleSnapshotID: &snap.ID}
	require.NoError(t, tx.InsertTrade(ctx, &trade))
	assert.ErrorIs(t, tx.InsertTrade(ctx, &storage.TradeRecord{AccountID: acct.ID, Ticket: 42}), storage.ErrDuplicateKey)
	require.NoError(t, tx.UpdateTrade(ctx, acct.ID, 42, -120.5, 90, time.Now()))
	require.NoError(t, tx.SetAccountStatus(ctx, acct.ID, "warning"))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit must be a no-op")

	trades, err := s.TradesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, -120.5, trades[0].Profit)
	assert.Equal(t, 90, trades[0].RiskScore)
	assert.Equal(t, storage.TradeStatusOpen, trades[0].Status)
	require.NotNil(t, trades[0].RuleSnapshotID)
	assert.Equal(t, snap.ID, *trades[0].RuleSnapshotID)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "warning", got.LastStatus)
}

func TestStore_RollbackRestoresState(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := createAccount(t, s)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertTrade(ctx, &storage.TradeRecord{AccountID: acct.ID, Ticket: 7}))
	entry, err := account.NewAuditEntry(acct.ID, account.ActionStatusChange, map[string]string{"to": "breach"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.InsertAuditLog(ctx, &entry))
	require.NoError(t, tx.Rollback())

	trades, err := s.TradesByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)

	logs, err := s.AuditLog(ctx, acct.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestStore_UpdateRulesAuditsOnlyRealChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := createAccount(t, s)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	same := 5.0
	_, changed, err := storage.UpdateRules(ctx, s, acct.ID, account.RuleUpdate{DailyLossLimitPct: &same}, account.BuiltinPresets(), now)
	require.NoError(t, err)
	assert.False(t, changed)

	logs, err := s.AuditLog(ctx, acct.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)

	lot := 2.0
	updated, changed, err := storage.UpdateRules(ctx, s, acct.ID, account.RuleUpdate{MaxLotSize: &lot}, account.BuiltinPresets(), now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2.0, updated.Rules.MaxLotSize)

	logs, err = s.AuditLog(ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, account.ActionRuleChange, logs[0].Action)
	assert.Equal(t, account.CategoryRisk, logs[0].Category)
	assert.JSONEq(t, `{"max_lot_size":{"old":10,"new":2}}`, string(logs[0].Details))
}

func TestStore_MarkNotifiedAndMissingAccount(t *testing.T) {
	s := New()
	ctx := context.Background()
	acct := createAccount(t, s)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkNotified(ctx, acct.ID, at))
	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNotificationAt)
	assert.True(t, got.LastNotificationAt.Equal(at))

	assert.ErrorIs(t, s.MarkNotified(ctx, 999, at), storage.ErrNotFound)
	_, err = s.GetAccount(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_EventsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, storage.Event{Type: "risk_evaluation", Payload: []byte(`{"n":1}`)}))
	require.NoError(t, s.AppendEvent(ctx, storage.Event{Type: "error", Payload: []byte(`{"n":2}`)}))
	require.NoError(t, s.AppendEvent(ctx, storage.Event{Type: "risk_evaluation", Payload: []byte(`{"n":3}`)}))

	events, err := s.ListEvents(ctx, "risk_evaluation", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"n":3}`, string(events[0].Payload))

	all, err := s.ListEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
