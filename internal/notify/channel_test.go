package notify

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"risklock/internal/config"
	"risklock/internal/risk"
)

var testAlert = Alert{ID: "a-1", Status: risk.StatusCritical, Violations: []string{"CRITICAL: Near Daily Loss Limit"}}

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 2, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestTelegramChannel_Send(t *testing.T) {
	var (
		path     string
		received map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTelegramChannel(config.ChatConfig{APIURL: srv.URL, BotToken: "T0K", Retry: fastRetry()}, nil)
	if err := ch.Send(context.Background(), "12345", testAlert); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/botT0K/sendMessage" {
		t.Fatalf("path = %s", path)
	}
	if received["chat_id"] != "12345" || received["parse_mode"] != "Markdown" {
		t.Fatalf("payload = %+v", received)
	}
	if !strings.Contains(received["text"], "Status: *CRITICAL*") {
		t.Fatalf("text = %q", received["text"])
	}
}

func TestTelegramChannel_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewTelegramChannel(config.ChatConfig{APIURL: srv.URL, BotToken: "x", Retry: fastRetry()}, nil)
	err := ch.Send(context.Background(), "1", testAlert)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}

	noToken := NewTelegramChannel(config.ChatConfig{APIURL: srv.URL}, nil)
	if err := noToken.Send(context.Background(), "1", testAlert); err == nil {
		t.Fatalf("missing token must fail")
	}
}

func TestWebhookChannel_Formats(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = nil
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.ChatConfig{Retry: fastRetry()}, nil)
	if err := ch.Send(context.Background(), srv.URL+"/slack", testAlert); err != nil {
		t.Fatalf("slack: %v", err)
	}
	if received["text"] == "" || received["username"] != "RiskLock" {
		t.Fatalf("slack payload = %+v", received)
	}

	if err := ch.Send(context.Background(), srv.URL+"/discord/hook", testAlert); err != nil {
		t.Fatalf("discord: %v", err)
	}
	if received["content"] == "" {
		t.Fatalf("discord payload = %+v", received)
	}
	if _, ok := received["text"]; ok {
		t.Fatalf("discord payload must not carry text")
	}
}

func TestNewChatChannel(t *testing.T) {
	if ch, err := NewChatChannel(config.ChatConfig{}, nil); err != nil || ch != nil {
		t.Fatalf("empty kind: %v %v", ch, err)
	}
	if ch, err := NewChatChannel(config.ChatConfig{Kind: "Telegram"}, nil); err != nil || ch.Name() != "telegram" {
		t.Fatalf("telegram: %v %v", ch, err)
	}
	if _, err := NewChatChannel(config.ChatConfig{Kind: "pager"}, nil); err == nil {
		t.Fatalf("unknown kind must fail")
	}
}

func TestEmailChannel_Send(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{Host: "smtp.example.com", Username: "bot@example.com", Password: "pw"}, nil)
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	ch.sendMail = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := ch.Send(context.Background(), "trader@example.com", testAlert); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || len(gotTo) != 1 || gotTo[0] != "trader@example.com" {
		t.Fatalf("addr=%s to=%v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: RISKLOCK ALERT: Account CRITICAL\r\n") {
		t.Fatalf("message = %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "- CRITICAL: Near Daily Loss Limit") {
		t.Fatalf("body missing violation: %q", gotMsg)
	}
}

func TestEmailChannel_LogOnlyWithoutHost(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{}, nil)
	ch.sendMail = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		t.Fatalf("sendMail must not be called without host")
		return nil
	}
	if err := ch.Send(context.Background(), "x@example.com", testAlert); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestEmailChannel_StalledServerHonoursDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	ch := NewEmailChannel(config.EmailConfig{Host: "127.0.0.1", Port: addr.Port, From: "bot@example.com"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ch.Send(ctx, "trader@example.com", testAlert) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error from a silent SMTP server")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("send did not honour the context deadline")
	}
}

func TestQueue_RecoversPanics(t *testing.T) {
	q := NewQueue(time.Second, nil)
	done := make(chan struct{})
	q.Submit(context.Background(), "boom", func(context.Context) error { panic("boom") })
	q.Submit(context.Background(), "ok", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("task context must carry a deadline")
		}
		close(done)
		return nil
	})
	q.Wait()
	select {
	case <-done:
	default:
		t.Fatalf("second task did not run")
	}
}
