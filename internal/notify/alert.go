// Package notify 负责将风控告警投递到邮件与聊天通道，并执行冷却策略。
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"risklock/internal/risk"
)

// Alert 是一次告警的内容。
type Alert struct {
	ID          string
	AccountID   int64
	AccountName string
	Status      risk.Status
	Violations  []string
	At          time.Time
}

// Subject 返回邮件标题。
func (a Alert) Subject() string {
	return fmt.Sprintf("RISKLOCK ALERT: Account %s", strings.ToUpper(string(a.Status)))
}

// EmailBody 返回邮件正文。
func (a Alert) EmailBody() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RiskLock has detected a %s state.\n\nViolations:\n", a.Status)
	for i, v := range a.Violations {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(v)
	}
	return b.String()
}

// ChatText 返回聊天消息（Markdown）。
func (a Alert) ChatText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *RISKLOCK ALERT*\n\nStatus: *%s*\n\n", strings.ToUpper(string(a.Status)))
	for i, v := range a.Violations {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(v)
	}
	return b.String()
}

// Channel 是一个告警通道，target 为通道内的收件方（邮箱、chat id 或 webhook 地址）。
type Channel interface {
	Name() string
	Send(ctx context.Context, target string, alert Alert) error
}
