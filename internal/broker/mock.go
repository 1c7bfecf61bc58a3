package broker

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

var mockSymbols = []string{"EURUSD", "GBPUSD", "XAUUSD", "US30"}

// MockBridge 模拟 MT5 终端，返回可复现的账户与持仓数据。
type MockBridge struct {
	balance float64

	mu       sync.Mutex
	rng      *rand.Rand
	demoMode bool
	now      func() time.Time
}

// NewMockBridge 创建模拟桥接；seed 相同时输出一致。
func NewMockBridge(balance float64, demoMode bool, seed uint64) *MockBridge {
	if balance <= 0 {
		balance = 100000
	}
	return &MockBridge{
		balance:  balance,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		demoMode: demoMode,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MockBridge) Name() string { return "mock" }

func (m *MockBridge) Connect(ctx context.Context) error {
	return ctx.Err()
}

// SetDemoMode 切换演示模式，演示模式下模拟接近回撤上限与超大手数。
func (m *MockBridge) SetDemoMode(enabled bool) {
	m.mu.Lock()
	m.demoMode = enabled
	m.mu.Unlock()
}

func (m *MockBridge) AccountInfo(ctx context.Context) (AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return AccountSnapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var equity, profit float64
	if m.demoMode {
		equity = m.balance - 9200
		profit = -9200
	} else {
		fluctuation := m.uniform(-500, 1500)
		equity = m.balance + fluctuation + m.uniform(-200, 200)
		profit = fluctuation
	}

	const margin = 1340.0
	return AccountSnapshot{
		Login:       12345678,
		Name:        "Demo Trader",
		Server:      "MetaQuotes-Demo",
		Platform:    "mt5",
		Currency:    "USD",
		Leverage:    100,
		Balance:     m.balance,
		Equity:      equity,
		Margin:      margin,
		MarginFree:  equity - margin,
		MarginLevel: 7500,
		Profit:      profit,
	}, nil
}

func (m *MockBridge) Trades(ctx context.Context) ([]Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.demoMode {
		return []Trade{{
			Ticket:       9999,
			Symbol:       "XAUUSD",
			Side:         SideBuy,
			Volume:       15,
			OpenPrice:    2045.50,
			CurrentPrice: 2043.20,
			Profit:       -3450,
			OpenTime:     now.Add(-45 * time.Minute),
		}}, nil
	}

	count := 1 + m.rng.IntN(3)
	volumes := []float64{0.1, 0.5, 1.0}
	trades := make([]Trade, 0, count)
	for i := 0; i < count; i++ {
		symbol := mockSymbols[m.rng.IntN(len(mockSymbols))]
		side := SideBuy
		if m.rng.IntN(2) == 1 {
			side = SideSell
		}
		price := 2000.0
		if strings.Contains(symbol, "USD") {
			price = 1.05
		}
		trades = append(trades, Trade{
			Ticket:       int64(1000 + i),
			Symbol:       symbol,
			Side:         side,
			Volume:       volumes[m.rng.IntN(len(volumes))],
			OpenPrice:    price,
			CurrentPrice: price + m.uniform(-0.002, 0.002),
			Profit:       m.uniform(-50, 150),
			OpenTime:     now.Add(-time.Duration(30*(i+1)) * time.Minute),
		})
	}
	return trades, nil
}

func (m *MockBridge) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}
