package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/bidhouse/internal/config"
	"github.com/keyxmakerx/bidhouse/internal/observability"
)

// Dispatcher renders and delivers templated emails.
type Dispatcher struct {
	transport Transport
	cfg       config.SMTPConfig
	from      mail.Address
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewDispatcher creates a dispatcher that sends through transport. A zero
// cfg.Timeout means no timeout beyond the caller's context.
func NewDispatcher(transport Transport, cfg config.SMTPConfig, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		cfg:       cfg,
		from:      mail.Address{Name: cfg.FromName, Address: cfg.FromAddr},
		metrics:   metrics,
		now:       time.Now,
	}
}

// Send renders the template for kind with vars and delivers it to
// recipient. It never returns an error for delivery problems: an
// unreachable server, a rejected recipient or a timeout all come back as a
// failed DispatchResult.
func (d *Dispatcher) Send(ctx context.Context, recipient string, kind TemplateKind, vars map[string]string) DispatchResult {
	result := d.send(ctx, recipient, kind, vars)
	d.metrics.Dispatch(string(kind), result.Success)
	return result
}

func (d *Dispatcher) send(ctx context.Context, recipient string, kind TemplateKind, vars map[string]string) DispatchResult {
	to, err := mail.ParseAddress(recipient)
	if err != nil {
		return DispatchResult{Message: "invalid recipient address"}
	}

	subject, body, err := render(kind, vars)
	if err != nil {
		// A bad template or a missing variable is a programming error, not a
		// delivery problem, so it is logged loudly.
		slog.Error("rendering email template",
			slog.String("template", string(kind)),
			slog.Any("error", err),
		)
		return DispatchResult{Message: "could not prepare email"}
	}

	msg := d.buildMessage(to, subject, body)

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	if err := d.transport.Send(ctx, d.from.Address, []string{to.Address}, msg); err != nil {
		message := "could not deliver email, please try again later"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			message = "email delivery timed out, please try again later"
		}
		slog.Warn("email dispatch failed",
			slog.String("template", string(kind)),
			slog.String("recipient_domain", domainOf(to.Address)),
			slog.Any("error", err),
		)
		return DispatchResult{Message: message}
	}

	slog.Debug("email dispatched",
		slog.String("template", string(kind)),
		slog.String("recipient_domain", domainOf(to.Address)),
	)
	return DispatchResult{Success: true, Message: "email sent"}
}

// buildMessage assembles a plain-text RFC 5322 message.
func (d *Dispatcher) buildMessage(to *mail.Address, subject, body string) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to.String())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", d.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(d.from.Address))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(msg.String())
}

// Settings returns the redacted configuration for operators.
func (d *Dispatcher) Settings() Settings {
	return Settings{
		Host:        d.cfg.Host,
		Port:        d.cfg.Port,
		Username:    d.cfg.Username,
		HasPassword: d.cfg.Password != "",
		FromAddress: d.cfg.FromAddr,
		FromName:    d.cfg.FromName,
		Encryption:  d.cfg.Encryption,
		Configured:  d.cfg.Host != "",
	}
}

// TestConnection verifies the mail server accepts a connection with the
// configured credentials.
func (d *Dispatcher) TestConnection(ctx context.Context) error {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	return d.transport.Ping(ctx)
}

// domainOf returns the part after @ so logs carry no full addresses.
func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}
