package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"

	"github.com/drewfead/showtime-watcher/internal"
	"github.com/drewfead/showtime-watcher/internal/config"
	"github.com/jordan-wright/email"
)

// implicitTLSPort is the SMTPS port; every other port starts in plaintext and upgrades with STARTTLS when offered.
const implicitTLSPort = 465

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type emailNotifier struct {
	cfg       config.Email
	dial      dialFunc
	tlsConfig *tls.Config
}

// EmailOption applies configuration to the email notifier.
type EmailOption func(*emailNotifier)

// WithDialer replaces the TCP dialer, e.g. to reach a test server.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) EmailOption {
	return func(n *emailNotifier) {
		if dial != nil {
			n.dial = dial
		}
	}
}

// WithTLSConfig overrides the TLS client configuration. ServerName defaults to the SMTP host.
func WithTLSConfig(c *tls.Config) EmailOption {
	return func(n *emailNotifier) {
		n.tlsConfig = c
	}
}

// Email returns a notifier that sends one plain-text message per alert over SMTP.
// The whole SMTP conversation is bounded by cfg.Timeout.
func Email(cfg config.Email, opts ...EmailOption) internal.Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSMTPTimeout
	}
	n := &emailNotifier{cfg: cfg}
	d := &net.Dialer{Timeout: cfg.Timeout}
	n.dial = d.DialContext
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Message builds the MIME message for an alert.
func Message(from, to string, alert internal.Alert) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{to}
	e.Subject = Subject(alert)
	e.Text = []byte(Body(alert))
	return e
}

func (n *emailNotifier) Notify(ctx context.Context, alert internal.Alert) error {
	msg, err := Message(n.cfg.From, n.cfg.To, alert).Bytes()
	if err != nil {
		return &internal.DeliveryError{Notifier: "email", Err: fmt.Errorf("build message: %w", err)}
	}
	if err := n.send(ctx, msg); err != nil {
		return &internal.DeliveryError{Notifier: "email", Err: err}
	}
	slog.Info("notify: email sent", "subject", Subject(alert), "to", n.cfg.To)
	return nil
}

func (n *emailNotifier) send(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(n.cfg.SMTPPort))
	conn, err := n.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	tlsConfig := n.clientTLS()
	if n.cfg.SMTPPort == implicitTLSPort {
		conn = tls.Client(conn, tlsConfig)
	}
	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if n.cfg.SMTPPort != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(n.cfg.To); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	// the message is already accepted at this point
	if err := client.Quit(); err != nil {
		slog.Debug("notify: smtp quit failed", "error", err)
	}
	return nil
}

func (n *emailNotifier) clientTLS() *tls.Config {
	c := &tls.Config{MinVersion: tls.VersionTLS12}
	if n.tlsConfig != nil {
		c = n.tlsConfig.Clone()
	}
	if c.ServerName == "" {
		c.ServerName = n.cfg.SMTPHost
	}
	return c
}
