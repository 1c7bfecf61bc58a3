package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"risklock/internal/config"
	"risklock/internal/httputil"
)

// MetaAPI 通过 MetaApi 云端 REST 接口读取 MT4/MT5 账户。
type MetaAPI struct {
	cfg       config.MetaAPIConfig
	accountID string
	client    *http.Client
	limiter   *rate.Limiter
	retry     httputil.RetryConfig
	logger    *zap.Logger
}

// NewMetaAPI 创建 MetaApi 数据源。
func NewMetaAPI(cfg config.MetaAPIConfig, accountID string, logger *zap.Logger) (*MetaAPI, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("broker: metaapi token 不能为空")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, errors.New("broker: metaapi account id 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &MetaAPI{
		cfg:       cfg,
		accountID: accountID,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter:   rate.NewLimiter(limit, burst),
		retry:     httputil.FromConfig(cfg.Retry),
		logger:    logger,
	}, nil
}

func (m *MetaAPI) Name() string { return "metaapi" }

type metaAPIAccount struct {
	State            string `json:"state"`
	ConnectionStatus string `json:"connectionStatus"`
}

// Connect 检查云端账户状态，未部署时触发部署；未连接时返回 ErrDegraded。
func (m *MetaAPI) Connect(ctx context.Context) error {
	var account metaAPIAccount
	path := "/users/current/accounts/" + url.PathEscape(m.accountID)
	if err := m.do(ctx, http.MethodGet, m.cfg.ProvisioningURL, path, &account); err != nil {
		return fmt.Errorf("broker: 查询 metaapi 账户失败: %w", err)
	}

	if account.State != "DEPLOYED" {
		m.logger.Info("metaapi 账户未部署，开始部署", zap.String("account", m.accountID), zap.String("state", account.State))
		if err := m.do(ctx, http.MethodPost, m.cfg.ProvisioningURL, path+"/deploy", nil); err != nil {
			return fmt.Errorf("broker: 部署 metaapi 账户失败: %w", err)
		}
		return fmt.Errorf("%w: account %s deploying", ErrDegraded, m.accountID)
	}
	if account.ConnectionStatus != "CONNECTED" {
		return fmt.Errorf("%w: account %s is %s", ErrDegraded, m.accountID, account.ConnectionStatus)
	}
	return nil
}

type metaAPIAccountInfo struct {
	Login       json.Number `json:"login"`
	Name        string      `json:"name"`
	Server      string      `json:"server"`
	Platform    string      `json:"platform"`
	Currency    string      `json:"currency"`
	Leverage    int         `json:"leverage"`
	Balance     float64     `json:"balance"`
	Equity      float64     `json:"equity"`
	Margin      float64     `json:"margin"`
	FreeMargin  float64     `json:"freeMargin"`
	MarginLevel float64     `json:"marginLevel"`
	Profit      *float64    `json:"profit"`
}

func (m *MetaAPI) AccountInfo(ctx context.Context) (AccountSnapshot, error) {
	var info metaAPIAccountInfo
	path := "/users/current/accounts/" + url.PathEscape(m.accountID) + "/account-information"
	if err := m.do(ctx, http.MethodGet, m.cfg.ClientURL, path, &info); err != nil {
		return AccountSnapshot{}, fmt.Errorf("broker: 获取 metaapi 账户信息失败: %w", err)
	}

	login, _ := info.Login.Int64()
	leverage := info.Leverage
	if leverage == 0 {
		leverage = 100
	}
	platform := "mt4"
	if strings.Contains(strings.ToLower(info.Platform), "mt5") {
		platform = "mt5"
	}
	profit := info.Equity - info.Balance
	if info.Profit != nil {
		profit = *info.Profit
	}

	return AccountSnapshot{
		Login:       login,
		Name:        info.Name,
		Server:      info.Server,
		Platform:    platform,
		Currency:    info.Currency,
		Leverage:    leverage,
		Balance:     info.Balance,
		Equity:      info.Equity,
		Margin:      info.Margin,
		MarginFree:  info.FreeMargin,
		MarginLevel: info.MarginLevel,
		Profit:      profit,
	}, nil
}

type metaAPIPosition struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	Profit       float64   `json:"profit"`
	Time         time.Time `json:"time"`
}

func (m *MetaAPI) Trades(ctx context.Context) ([]Trade, error) {
	var positions []metaAPIPosition
	path := "/users/current/accounts/" + url.PathEscape(m.accountID) + "/positions"
	if err := m.do(ctx, http.MethodGet, m.cfg.ClientURL, path, &positions); err != nil {
		return nil, fmt.Errorf("broker: 获取 metaapi 持仓失败: %w", err)
	}

	trades := make([]Trade, 0, len(positions))
	for _, pos := range positions {
		ticket, err := strconv.ParseInt(pos.ID, 10, 64)
		if err != nil {
			m.logger.Warn("忽略无法解析的持仓编号", zap.String("id", pos.ID))
			continue
		}
		trades = append(trades, Trade{
			Ticket:       ticket,
			Symbol:       pos.Symbol,
			Side:         ParseSide(pos.Type),
			Volume:       pos.Volume,
			OpenPrice:    pos.OpenPrice,
			CurrentPrice: pos.CurrentPrice,
			Profit:       pos.Profit,
			OpenTime:     pos.Time.UTC(),
		})
	}
	return trades, nil
}

func (m *MetaAPI) do(ctx context.Context, method, base, path string, out interface{}) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := strings.TrimRight(base, "/") + path
	resp, err := httputil.Do(ctx, m.client, m.retry, m.logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("auth-token", m.cfg.Token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("metaapi HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 metaapi 响应失败: %w", err)
	}
	return nil
}
