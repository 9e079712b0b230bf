package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	gosmtp "net/smtp"
	"strconv"

	"github.com/keyxmakerx/bidhouse/internal/config"
)

// Transport delivers a fully built RFC 5322 message.
type Transport interface {
	// Send delivers msg from the envelope sender to the recipients. It must
	// give up when ctx is done.
	Send(ctx context.Context, from string, to []string, msg []byte) error

	// Ping checks connectivity and credentials without sending anything.
	Ping(ctx context.Context) error
}

// NewTransport picks the SMTP transport when a host is configured and the
// log transport otherwise.
func NewTransport(cfg config.SMTPConfig) Transport {
	if cfg.Host == "" {
		return LogTransport{}
	}
	return &smtpTransport{
		host:       cfg.Host,
		port:       cfg.Port,
		username:   cfg.Username,
		password:   cfg.Password,
		encryption: cfg.Encryption,
	}
}

// smtpTransport talks to a mail server with net/smtp.
type smtpTransport struct {
	host       string
	port       int
	username   string
	password   string
	encryption string // "starttls", "ssl" or "none".
}

// Send implements Transport.
func (t *smtpTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// Ping implements Transport by running the handshake and authentication.
func (t *smtpTransport) Ping(ctx context.Context) error {
	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return client.Quit()
}

// connect dials, negotiates TLS per the encryption mode and authenticates.
// The connection is closed as soon as ctx is done so a hung server cannot
// outlive the dispatch timeout.
func (t *smtpTransport) connect(ctx context.Context) (*gosmtp.Client, func(), error) {
	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	tlsConfig := &tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if t.encryption == "ssl" {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	client, err := gosmtp.NewClient(conn, t.host)
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, fmt.Errorf("creating smtp client: %w", err)
	}
	closeFn := func() {
		stop()
		client.Close()
	}

	if t.encryption == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("starting TLS: %w", err)
		}
	}

	if t.username != "" {
		if err := client.Auth(gosmtp.PlainAuth("", t.username, t.password, t.host)); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("authenticating: %w", err)
		}
	}

	return client, closeFn, nil
}

// LogTransport writes messages to the log instead of sending them. Used in
// development when no SMTP host is configured; it always succeeds.
type LogTransport struct{}

// Send implements Transport.
func (LogTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	slog.Info("email not sent (no SMTP host configured)",
		slog.String("from", from),
		slog.Any("to", to),
		slog.String("message", string(msg)),
	)
	return nil
}

// Ping implements Transport.
func (LogTransport) Ping(ctx context.Context) error {
	return nil
}
