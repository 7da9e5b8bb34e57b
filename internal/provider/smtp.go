package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultSMTPDialTimeout = 10 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// DialTimeout bounds the TCP connect. Zero uses ten seconds.
	DialTimeout time.Duration
}

// SMTPProvider delivers HTML email over SMTP, upgrading with STARTTLS when
// the server offers it.
type SMTPProvider struct {
	cfg  SMTPConfig
	auth smtp.Auth
	addr string
}

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultSMTPDialTimeout
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPProvider{
		cfg:  cfg,
		auth: auth,
		addr: net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
	}, nil
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.cfg.Host)

	if err := p.deliver(ctx, msg, messageID); err != nil {
		return nil, classifySMTPError(err)
	}

	return &ProviderResponse{StatusCode: 250, MessageID: messageID}, nil
}

func (p *SMTPProvider) deliver(ctx context.Context, msg Message, messageID string) error {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if p.auth != nil {
		if err := client.Auth(p.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(envelopeAddress(p.cfg.From)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(envelopeAddress(msg.To)); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIMEMessage(p.cfg.From, msg, messageID)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

func buildMIMEMessage(from string, msg Message, messageID string) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	if msg.CorrelationID != "" {
		b.WriteString("X-Correlation-ID: " + msg.CorrelationID + "\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)

	return []byte(b.String())
}

// envelopeAddress extracts the address from "Name <user@host>".
func envelopeAddress(address string) string {
	if start := strings.Index(address, "<"); start != -1 {
		if end := strings.Index(address, ">"); end > start {
			return address[start+1 : end]
		}
	}
	return strings.TrimSpace(address)
}

// classifySMTPError treats 5xx replies as permanent and everything else,
// including network failures and 4xx replies, as transient.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return &ProviderError{
			StatusCode: protoErr.Code,
			Message:    "smtp server rejected message",
			Transient:  protoErr.Code < 500,
			Cause:      err,
		}
	}
	return transientError("smtp delivery failed", err)
}
