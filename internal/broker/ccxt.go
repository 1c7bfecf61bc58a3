package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"risklock/internal/config"
)

type balanceClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

var quoteCurrencies = []string{"USDC", "USD", "USDT"}

// CCXT 读取加密衍生品交易所的保证金账户与持仓。
type CCXT struct {
	exchange string
	client   balanceClient
	logger   *zap.Logger
}

// NewCCXT 按配置创建交易所只读客户端。
func NewCCXT(cfg config.CCXTConfig, logger *zap.Logger) (*CCXT, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Exchange))
	var client balanceClient
	switch name {
	case "", "binanceusdm":
		name = "binanceusdm"
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		}
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	case "hyperliquid":
		if cfg.Wallet != "" {
			userConfig["walletAddress"] = cfg.Wallet
		}
		if cfg.PrivateKey != "" {
			userConfig["privateKey"] = cfg.PrivateKey
		}
		ex := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	default:
		return nil, fmt.Errorf("%w: ccxt exchange %q", ErrUnsupportedProvider, cfg.Exchange)
	}

	return newCCXTWithClient(name, client, logger), nil
}

func newCCXTWithClient(exchange string, client balanceClient, logger *zap.Logger) *CCXT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CCXT{exchange: exchange, client: client, logger: logger}
}

func (c *CCXT) Name() string { return "ccxt:" + c.exchange }

func (c *CCXT) Connect(ctx context.Context) error {
	_, err := callWithContext(ctx, func() (ccxt.Balances, error) {
		return c.client.FetchBalance()
	})
	if err != nil {
		return fmt.Errorf("broker: 连接 %s 失败: %w", c.exchange, err)
	}
	return nil
}

func (c *CCXT) AccountInfo(ctx context.Context) (AccountSnapshot, error) {
	balances, err := callWithContext(ctx, func() (ccxt.Balances, error) {
		return c.client.FetchBalance()
	})
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("broker: 获取账户余额失败: %w", err)
	}
	positions, err := callWithContext(ctx, func() ([]ccxt.Position, error) {
		return c.client.FetchPositions()
	})
	if err != nil {
		return AccountSnapshot{}, fmt.Errorf("broker: 获取持仓失败: %w", err)
	}

	snapshot := AccountSnapshot{
		Name:     c.exchange,
		Server:   c.exchange,
		Platform: "ccxt",
		Currency: "USD",
		Leverage: 1,
	}

	for _, code := range quoteCurrencies {
		if total, ok := balances.Total[code]; ok && total != nil {
			snapshot.Balance = *total
			snapshot.Currency = code
			break
		}
	}
	for _, code := range quoteCurrencies {
		if free, ok := balances.Free[code]; ok && free != nil {
			snapshot.MarginFree = *free
			break
		}
	}

	var unrealized, collateral, maxLeverage float64
	for _, pos := range positions {
		if derefFloat(pos.Contracts) == 0 {
			continue
		}
		unrealized += derefFloat(pos.UnrealizedPnl)
		collateral += derefFloat(pos.Collateral)
		if lev := derefFloat(pos.Leverage); lev > maxLeverage {
			maxLeverage = lev
		}
	}

	snapshot.Equity = snapshot.Balance + unrealized
	if balances.Info != nil {
		if summary, ok := balances.Info["marginSummary"].(map[string]interface{}); ok {
			if v := parseNumeric(summary["accountValue"]); v > 0 {
				snapshot.Equity = v
				snapshot.Balance = v - unrealized
			}
			if v := parseNumeric(summary["totalMarginUsed"]); v > 0 {
				collateral = v
			}
		}
	}

	snapshot.Profit = unrealized
	snapshot.Margin = collateral
	if collateral > 0 {
		snapshot.MarginLevel = snapshot.Equity / collateral * 100
	}
	if maxLeverage > 0 {
		snapshot.Leverage = int(maxLeverage)
	}
	return snapshot, nil
}

func (c *CCXT) Trades(ctx context.Context) ([]Trade, error) {
	positions, err := callWithContext(ctx, func() ([]ccxt.Position, error) {
		return c.client.FetchPositions()
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 获取持仓失败: %w", err)
	}

	trades := make([]Trade, 0, len(positions))
	for _, pos := range positions {
		symbol := derefString(pos.Symbol)
		size := derefFloat(pos.Contracts)
		if symbol == "" || size == 0 {
			continue
		}
		side := ParseSide(derefString(pos.Side))

		trades = append(trades, Trade{
			Ticket:       positionTicket(symbol, side),
			Symbol:       symbol,
			Side:         side,
			Volume:       size,
			OpenPrice:    derefFloat(pos.EntryPrice),
			CurrentPrice: derefFloat(pos.MarkPrice),
			Profit:       derefFloat(pos.UnrealizedPnl),
			OpenTime:     positionOpenTime(pos.Info),
		})
	}
	return trades, nil
}

// positionTicket 为交易所持仓生成稳定编号；同一合约同一方向只有一个持仓。
func positionTicket(symbol string, side Side) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol + "|" + string(side)))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func positionOpenTime(info map[string]interface{}) time.Time {
	if info == nil {
		return time.Time{}
	}
	for _, key := range []string{"updateTime", "openTime", "timestamp"} {
		if ms := parseNumeric(info[key]); ms > 0 {
			return time.UnixMilli(int64(ms)).UTC()
		}
	}
	return time.Time{}
}

func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val: val, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
