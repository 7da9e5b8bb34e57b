package provider

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"
)

// startFakeSMTP serves one SMTP session, answering RCPT with rcptReply.
func startFakeSMTP(t *testing.T, rcptReply string) (host string, port int, data <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				_ = tp.PrintfLine("250 localhost")
			case strings.HasPrefix(cmd, "RCPT TO"):
				_ = tp.PrintfLine("%s", rcptReply)
			case strings.HasPrefix(cmd, "DATA"):
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				received <- strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case strings.HasPrefix(cmd, "QUIT"):
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("250 OK")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, received
}

func TestSMTPProviderSend(t *testing.T) {
	t.Parallel()

	host, port, data := startFakeSMTP(t, "250 OK")
	p, err := NewSMTPProvider(SMTPConfig{Host: host, Port: port, From: "Engine <no-reply@example.com>"})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := p.Send(ctx, testMessage)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.StatusCode != 250 || resp.MessageID == "" {
		t.Fatalf("response = %+v, want 250 with message id", resp)
	}

	select {
	case body := <-data:
		for _, want := range []string{
			"To: user@example.com",
			"Subject: Welcome",
			"X-Correlation-ID: corr-1",
			"Content-Type: text/html",
			"<p>Hello</p>",
		} {
			if !strings.Contains(body, want) {
				t.Fatalf("message missing %q:\n%s", want, body)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive message data")
	}
}

func TestSMTPProviderRejectedRecipientIsPermanent(t *testing.T) {
	t.Parallel()

	host, port, _ := startFakeSMTP(t, "550 no such user")
	p, err := NewSMTPProvider(SMTPConfig{Host: host, Port: port, From: "no-reply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	_, err = p.Send(context.Background(), testMessage)
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Send() error = %v, want *ProviderError", err)
	}
	if providerErr.StatusCode != 550 || providerErr.Transient {
		t.Fatalf("ProviderError = %+v, want permanent 550", providerErr)
	}
	if !IsPermanent(err) {
		t.Fatal("IsPermanent() = false, want true")
	}
}

func TestSMTPProviderGreylistIsTransient(t *testing.T) {
	t.Parallel()

	host, port, _ := startFakeSMTP(t, "451 try again later")
	p, err := NewSMTPProvider(SMTPConfig{Host: host, Port: port, From: "no-reply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	_, err = p.Send(context.Background(), testMessage)
	if !IsTransient(err) {
		t.Fatalf("IsTransient(%v) = false, want true", err)
	}
}

func TestSMTPProviderConnectionRefusedIsTransient(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	p, err := NewSMTPProvider(SMTPConfig{Host: "127.0.0.1", Port: port, From: "no-reply@example.com", DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	_, err = p.Send(context.Background(), testMessage)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !IsTransient(err) || IsPermanent(err) {
		t.Fatalf("connection failure should be transient, got %v", err)
	}
}

func TestNewSMTPProviderValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTPProvider(SMTPConfig{From: "a@b.com"}); err == nil {
		t.Fatal("missing host should be rejected")
	}
	if _, err := NewSMTPProvider(SMTPConfig{Host: "localhost"}); err == nil {
		t.Fatal("missing sender should be rejected")
	}

	p, err := NewSMTPProvider(SMTPConfig{Host: "mail.local", From: "a@b.com"})
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}
	if p.addr != net.JoinHostPort("mail.local", strconv.Itoa(587)) {
		t.Fatalf("addr = %s, want mail.local:587", p.addr)
	}
}

func TestEnvelopeAddress(t *testing.T) {
	t.Parallel()

	if got := envelopeAddress("Engine <no-reply@example.com>"); got != "no-reply@example.com" {
		t.Fatalf("envelopeAddress() = %q", got)
	}
	if got := envelopeAddress(" a@b.com "); got != "a@b.com" {
		t.Fatalf("envelopeAddress() = %q", got)
	}
}
