package sending

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Dialer opens an authenticated SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPTransport delivers through an SMTP relay using gomail.
type SMTPTransport struct {
	cfg    SMTPConfig
	dialer Dialer
}

// NewSMTPTransport creates an SMTP transport. A blank host leaves it
// unconfigured, which Ready reports as unavailable.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	t := &SMTPTransport{cfg: cfg}
	if cfg.Host != "" {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		t.dialer = &timeoutDialer{Dialer: d, timeout: cfg.Timeout}
	}
	return t
}

// NewSMTPTransportWithDialer is used by tests to inject a fake session.
func NewSMTPTransportWithDialer(cfg SMTPConfig, d Dialer) *SMTPTransport {
	return &SMTPTransport{cfg: cfg, dialer: d}
}

// Account returns the configured From address.
func (t *SMTPTransport) Account() string { return t.cfg.From }

// Ready dials the relay once to confirm it accepts connections.
func (t *SMTPTransport) Ready(ctx context.Context) error {
	if t.dialer == nil || t.cfg.From == "" {
		return unavailable("smtp not configured")
	}
	s, err := t.dialer.Dial()
	if err != nil {
		return unavailable("smtp dial %s:%d: %v", t.cfg.Host, t.cfg.Port, err)
	}
	return s.Close()
}

// Send delivers one message in its own SMTP session.
func (t *SMTPTransport) Send(ctx context.Context, env *Envelope) (*Result, error) {
	if t.dialer == nil {
		return nil, unavailable("smtp not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(env.From.Address))

	m := gomail.NewMessage()
	m.SetAddressHeader("From", env.From.Address, env.From.Name)
	m.SetAddressHeader("To", env.To.Address, env.To.Name)
	m.SetHeader("Subject", env.Subject)
	m.SetHeader("Message-ID", messageID)
	for k, v := range env.Headers {
		m.SetHeader(k, v)
	}
	if env.Text != "" {
		m.SetBody("text/plain", env.Text)
		m.AddAlternative("text/html", env.HTML)
	} else {
		m.SetBody("text/html", env.HTML)
	}

	s, err := t.dialer.Dial()
	if err != nil {
		return nil, unavailable("smtp dial %s:%d: %v", t.cfg.Host, t.cfg.Port, err)
	}
	defer s.Close()

	if err := gomail.Send(s, m); err != nil {
		return nil, err
	}

	logger.Debug("smtp message accepted", "component", "smtp", "to_email", env.To.Address, "message_id", messageID)
	return &Result{TransportMessageID: messageID}, nil
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}

// timeoutDialer bounds the connection phase; gomail has no context support.
type timeoutDialer struct {
	*gomail.Dialer
	timeout time.Duration
}

func (d *timeoutDialer) Dial() (gomail.SendCloser, error) {
	if d.timeout <= 0 {
		return d.Dialer.Dial()
	}
	type result struct {
		s   gomail.SendCloser
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := d.Dialer.Dial()
		ch <- result{s, err}
	}()
	select {
	case r := <-ch:
		return r.s, r.err
	case <-time.After(d.timeout):
		go func() {
			if r := <-ch; r.s != nil {
				r.s.Close()
			}
		}()
		return nil, fmt.Errorf("dial timeout after %s", d.timeout)
	}
}
