package behavior

import (
	"testing"
	"time"

	"risklock/internal/broker"
	"risklock/internal/config"
)

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newAnalyzer() *Analyzer {
	return NewAnalyzer(config.BehaviorConfig{}, func() time.Time { return now })
}

func recentTrades(n int) []broker.Trade {
	trades := make([]broker.Trade, n)
	for i := range trades {
		trades[i] = broker.Trade{Ticket: int64(i + 1), Volume: 1, OpenTime: now.Add(-time.Duration(i+1) * time.Minute)}
	}
	return trades
}

func TestAnalyze_Empty(t *testing.T) {
	report := newAnalyzer().Analyze(nil)
	if report.Score != 100 || len(report.Flags) != 0 || len(report.SessionPerformance) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if report.Flags == nil || report.SessionPerformance == nil {
		t.Fatalf("empty report must serialise as [] and {}")
	}
}

func TestAnalyze_Overtrading(t *testing.T) {
	cases := []struct {
		n        int
		severity string
	}{
		{4, ""},
		{5, SeverityWarning},
		{9, SeverityWarning},
		{10, SeverityCritical},
	}
	for _, tc := range cases {
		report := newAnalyzer().Analyze(recentTrades(tc.n))
		if tc.severity == "" {
			if len(report.Flags) != 0 {
				t.Fatalf("n=%d: unexpected flags %+v", tc.n, report.Flags)
			}
			continue
		}
		if len(report.Flags) != 1 || report.Flags[0].Type != FlagOvertrading || report.Flags[0].Severity != tc.severity {
			t.Fatalf("n=%d: flags = %+v", tc.n, report.Flags)
		}
		if report.Score != 80 {
			t.Fatalf("n=%d: score = %d, want 80", tc.n, report.Score)
		}
	}

	report := newAnalyzer().Analyze(recentTrades(7))
	if want := "High frequency detected: 7 trades in the last hour."; report.Flags[0].Message != want {
		t.Fatalf("message = %q", report.Flags[0].Message)
	}
}

func TestAnalyze_OvertradingIgnoresOldAndUnknownTimes(t *testing.T) {
	trades := recentTrades(4)
	trades = append(trades,
		broker.Trade{Ticket: 50, OpenTime: now.Add(-2 * time.Hour)},
		broker.Trade{Ticket: 51},
	)
	if report := newAnalyzer().Analyze(trades); len(report.Flags) != 0 {
		t.Fatalf("flags = %+v", report.Flags)
	}
}

func TestAnalyze_RevengeTrading(t *testing.T) {
	closed := now.Add(-40 * time.Minute)
	loser := broker.Trade{Ticket: 1, Profit: -100, Volume: 1, OpenTime: now.Add(-50 * time.Minute), CloseTime: &closed}
	revenge := broker.Trade{Ticket: 2, Volume: 2, OpenTime: closed.Add(5 * time.Minute)}

	// 输入顺序无关，按开仓时间倒序扫描
	report := newAnalyzer().Analyze([]broker.Trade{loser, revenge})
	if len(report.Flags) != 1 {
		t.Fatalf("flags = %+v", report.Flags)
	}
	f := report.Flags[0]
	if f.Type != FlagRevengeTrading || f.Severity != SeverityCritical {
		t.Fatalf("flag = %+v", f)
	}
	if f.Message != "Revenge trading pattern: Aggressive re-entry with increased volume after a loss." {
		t.Fatalf("message = %q", f.Message)
	}
	if report.Score != 80 {
		t.Fatalf("score = %d", report.Score)
	}
}

func TestAnalyze_RevengeTradingNegatives(t *testing.T) {
	closed := now.Add(-40 * time.Minute)
	base := broker.Trade{Ticket: 1, Profit: -100, Volume: 1, OpenTime: now.Add(-50 * time.Minute), CloseTime: &closed}

	cases := map[string][]broker.Trade{
		"same volume":  {base, {Ticket: 2, Volume: 1, OpenTime: closed.Add(time.Minute)}},
		"too late":     {base, {Ticket: 2, Volume: 3, OpenTime: closed.Add(10 * time.Minute)}},
		"prior winner": {{Ticket: 1, Profit: 50, Volume: 1, OpenTime: base.OpenTime, CloseTime: &closed}, {Ticket: 2, Volume: 3, OpenTime: closed.Add(time.Minute)}},
		"still open":   {{Ticket: 1, Profit: -50, Volume: 1, OpenTime: base.OpenTime}, {Ticket: 2, Volume: 3, OpenTime: closed.Add(time.Minute)}},
	}
	for name, trades := range cases {
		if report := newAnalyzer().Analyze(trades); len(report.Flags) != 0 {
			t.Errorf("%s: flags = %+v", name, report.Flags)
		}
	}
}

func TestAnalyze_RevengeStopsAtFirstMatch(t *testing.T) {
	var trades []broker.Trade
	for i := 0; i < 3; i++ {
		closed := now.Add(-time.Duration(300-i*60) * time.Minute)
		trades = append(trades,
			broker.Trade{Profit: -10, Volume: 1, OpenTime: closed.Add(-time.Minute), CloseTime: &closed},
			broker.Trade{Profit: -10, Volume: 2, OpenTime: closed.Add(2 * time.Minute)},
		)
	}
	report := newAnalyzer().Analyze(trades)
	count := 0
	for _, f := range report.Flags {
		if f.Type == FlagRevengeTrading {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("revenge flags = %d, want 1", count)
	}
}

func TestAnalyze_SessionPerformance(t *testing.T) {
	trades := []broker.Trade{
		{Session: broker.SessionLondon, Profit: 10.111},
		{Session: broker.SessionLondon, Profit: -3.005},
		{Session: broker.SessionAsia, Profit: 5},
		{Session: "NY", Profit: 100},
		{Profit: 7},
	}
	perf := newAnalyzer().Analyze(trades).SessionPerformance
	if len(perf) != 2 {
		t.Fatalf("sessions = %+v", perf)
	}
	if l := perf[broker.SessionLondon]; l.Count != 2 || l.Profit != 7.11 {
		t.Fatalf("london = %+v", l)
	}
	if a := perf[broker.SessionAsia]; a.Count != 1 || a.Profit != 5 {
		t.Fatalf("asia = %+v", a)
	}
	if _, ok := perf[broker.SessionNewYork]; ok {
		t.Fatalf("sessions with no trades must be omitted")
	}
}

func TestAnalyze_ScoreFloor(t *testing.T) {
	a := NewAnalyzer(config.BehaviorConfig{FlagPenalty: 60}, func() time.Time { return now })
	closed := now.Add(-20 * time.Minute)
	trades := recentTrades(10)
	trades = append(trades,
		broker.Trade{Profit: -10, Volume: 1, OpenTime: now.Add(-30 * time.Minute), CloseTime: &closed},
		broker.Trade{Volume: 2, OpenTime: now.Add(-15 * time.Minute)},
	)
	report := a.Analyze(trades)
	if len(report.Flags) != 2 || report.Score != 0 {
		t.Fatalf("flags=%d score=%d", len(report.Flags), report.Score)
	}
}
