package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NotificationSink delivers a human-readable alert message
type NotificationSink interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SMTPConfig holds outbound mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailNotifier sends alert mails over SMTP
type EmailNotifier struct {
	cfg SMTPConfig
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailNotifier{cfg: cfg}
}

// Send implements NotificationSink
func (e *EmailNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("%w: no recipient", ErrNotificationDelivery)
	}

	msg := buildMail(e.cfg.From, recipient, subject, body)
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprintf("%d", e.cfg.Port))

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	// net/smtp has no context support, bound the call from the outside
	done := make(chan error, 1)
	go func() {
		if e.cfg.Port == 465 {
			done <- e.sendWithTLS(addr, auth, recipient, msg)
			return
		}
		done <- smtp.SendMail(addr, auth, e.cfg.From, []string{recipient}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotificationDelivery, ctx.Err())
	}
}

func (e *EmailNotifier) sendWithTLS(addr string, auth smtp.Auth, recipient string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.cfg.Host})
	if err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(e.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
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

func buildMail(from, to, subject, body string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

// WebhookNotifier posts alert messages as JSON to a URL
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements NotificationSink
func (w *WebhookNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"subject":   subject,
		"body":      body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned status %d", ErrNotificationDelivery, resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alert messages to the log. Used when no mail or
// webhook channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send implements NotificationSink
func (l *LogNotifier) Send(_ context.Context, recipient, subject, body string) error {
	l.logger.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Msg(body)
	return nil
}

// MultiNotifier fans a message out to several sinks
type MultiNotifier struct {
	sinks []NotificationSink
}

// NewMultiNotifier creates a notifier over the given sinks
func NewMultiNotifier(sinks ...NotificationSink) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

// Add appends a sink
func (m *MultiNotifier) Add(sink NotificationSink) {
	m.sinks = append(m.sinks, sink)
}

// Len returns the number of sinks
func (m *MultiNotifier) Len() int {
	return len(m.sinks)
}

// Send delivers to every sink and joins their errors
func (m *MultiNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Send(ctx, recipient, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
