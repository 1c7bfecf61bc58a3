package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"risklock/internal/config"
)

type sendMailFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel 通过 SMTP 发送告警。未配置 Host 时只记录日志。
type EmailChannel struct {
	cfg      config.EmailConfig
	sendMail sendMailFunc
	logger   *zap.Logger
}

// NewEmailChannel 创建邮件通道。
func NewEmailChannel(cfg config.EmailConfig, logger *zap.Logger) *EmailChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailChannel{cfg: cfg, sendMail: sendMail, logger: logger}
}

func (c *EmailChannel) Name() string { return "email" }

// Send 发送邮件，连接受 ctx 的截止时间与取消约束。
func (c *EmailChannel) Send(ctx context.Context, to string, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cfg.Host == "" {
		c.logger.Warn("未配置 SMTP，告警邮件仅记录日志",
			zap.String("to", to),
			zap.String("subject", alert.Subject()),
			zap.String("body", alert.EmailBody()),
		)
		return nil
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if err := c.sendMail(ctx, addr, auth, c.from(), []string{to}, c.message(to, alert)); err != nil {
		return fmt.Errorf("notify: 发送邮件失败: %w", err)
	}
	return nil
}

func (c *EmailChannel) from() string {
	if c.cfg.From != "" {
		return c.cfg.From
	}
	return c.cfg.Username
}

func (c *EmailChannel) message(to string, alert Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from())
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", alert.Subject())
	fmt.Fprintf(&b, "X-RiskLock-Alert-ID: %s\r\n", alert.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(alert.EmailBody(), "\n", "\r\n"))
	return []byte(b.String())
}

// sendMail 按 smtp.SendMail 的流程投递，但连接随 ctx 超时或取消而中断。
func sendMail(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("smtp: 服务器不支持 AUTH")
		}
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
