package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig carries the outbound mail relay settings.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// EmailProvider delivers events as plain-text email via an SMTP relay. No
// third-party mail client appears anywhere in the retrieved corpus, so this
// is the one provider built directly on the standard library.
type EmailProvider struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailProvider constructs an EmailProvider from cfg.
func NewEmailProvider(cfg SMTPConfig) *EmailProvider {
	var auth smtp.Auth
	if cfg.Username != "" {
		host := cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return &EmailProvider{cfg: cfg, auth: auth, send: smtp.SendMail}
}

func (p *EmailProvider) Name() string { return "email" }

// Deliver sends a plain-text summary of ev to the target address.
func (p *EmailProvider) Deliver(ctx context.Context, target string, ev Event) error {
	subject := subjectFor(ev)
	body := bodyFor(ev)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		p.cfg.From, target, subject, body)

	if err := p.send(p.cfg.Addr, p.auth, p.cfg.From, []string{target}, []byte(msg)); err != nil {
		return fmt.Errorf("sending email to %s: %w", target, err)
	}
	return nil
}

func subjectFor(ev Event) string {
	switch ev.Type {
	case EventIncidentStarted:
		return fmt.Sprintf("[GuardAnt] %s is DOWN", ev.ServiceName)
	case EventIncidentResolved:
		return fmt.Sprintf("[GuardAnt] %s has recovered", ev.ServiceName)
	default:
		return fmt.Sprintf("[GuardAnt] %s: %s", ev.ServiceName, ev.Type)
	}
}

func bodyFor(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Service:   %s\n", ev.ServiceName)
	fmt.Fprintf(&b, "Event:     %s\n", ev.Type)
	fmt.Fprintf(&b, "Timestamp: %s\n", ev.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if ev.Incident.Reason != "" {
		fmt.Fprintf(&b, "Reason:    %s\n", ev.Incident.Reason)
	}
	return b.String()
}
