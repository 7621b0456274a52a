package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TLSMode string

const (
	TLSAuto   TLSMode = "auto"
	TLSAlways TLSMode = "always"
	TLSNone   TLSMode = "none"
)

type SMTPConfig struct {
	Address  string
	Port     int
	Domain   string
	From     string
	Username string
	Password string
	Timeout  time.Duration
	TLS      TLSMode
	// RootCAs overrides the system pool, mainly for relays with a private CA.
	RootCAs *x509.CertPool
}

const (
	DefaultSMTPAddress = "localhost"
	DefaultSMTPPort    = 25
	DefaultSMTPDomain  = "localhost.localdomain"
	DefaultSendTimeout = 10 * time.Second
)

func (c SMTPConfig) withDefaults() SMTPConfig {
	if c.Address == "" {
		c.Address = DefaultSMTPAddress
	}
	if c.Port == 0 {
		c.Port = DefaultSMTPPort
	}
	if c.Domain == "" {
		c.Domain = DefaultSMTPDomain
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSendTimeout
	}
	if c.TLS == "" {
		c.TLS = TLSAuto
	}
	return c
}

// SMTP sends each message as one SMTP transaction per recipient.
type SMTP struct {
	cfg SMTPConfig
	log *zap.Logger
	now func() time.Time
}

func NewSMTP(cfg SMTPConfig, log *zap.Logger) *SMTP {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTP{cfg: cfg.withDefaults(), log: log, now: time.Now}
}

func (s *SMTP) Config() SMTPConfig { return s.cfg }

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
}

// Deliver tries every recipient once, each bounded by the configured timeout.
// A slow recipient delays the ones after it but never stops them.
func (s *SMTP) Deliver(ctx context.Context, msg Message, recipients []string) []Delivery {
	out := make([]Delivery, 0, len(recipients))
	for _, rcpt := range recipients {
		d := Delivery{Recipient: rcpt}

		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := s.send(sendCtx, msg, rcpt)
		cancel()

		if err != nil {
			d.Err = err
			d.TimedOut = isTimeout(err)
			d.Unreachable = errors.Is(err, ErrUnreachable)
			s.log.Warn("mail_failed",
				zap.String("rcpt", rcpt),
				zap.String("smtp", s.addr()),
				zap.Bool("timed_out", d.TimedOut),
				zap.Bool("unreachable", d.Unreachable),
				zap.Error(err))
		} else {
			s.log.Info("mail_sent", zap.String("rcpt", rcpt), zap.String("subject", msg.Subject))
		}
		out = append(out, d)
	}
	return out
}

func (s *SMTP) send(ctx context.Context, msg Message, rcpt string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrUnreachable, s.addr(), err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Address)
	if err != nil {
		_ = conn.Close()
		return s.wrap(ctx, "greeting", err)
	}
	defer c.Close()

	if err := c.Hello(s.cfg.Domain); err != nil {
		return s.wrap(ctx, "helo", err)
	}

	if s.cfg.TLS != TLSNone {
		ok, _ := c.Extension("STARTTLS")
		switch {
		case ok:
			tc := &tls.Config{
				ServerName: s.cfg.Address,
				MinVersion: tls.VersionTLS12,
				RootCAs:    s.cfg.RootCAs,
			}
			if err := c.StartTLS(tc); err != nil {
				return s.wrap(ctx, "starttls", err)
			}
		case s.cfg.TLS == TLSAlways:
			return errors.New("smtp: server does not offer STARTTLS")
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Address)
			if err := c.Auth(auth); err != nil {
				return s.wrap(ctx, "auth", err)
			}
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return s.wrap(ctx, "mail from", err)
	}
	if err := c.Rcpt(rcpt); err != nil {
		return s.wrap(ctx, "rcpt to", err)
	}
	w, err := c.Data()
	if err != nil {
		return s.wrap(ctx, "data", err)
	}
	raw, err := s.compose(msg, rcpt)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return s.wrap(ctx, "data", err)
	}
	if err := w.Close(); err != nil {
		return s.wrap(ctx, "data", err)
	}
	if err := c.Quit(); err != nil {
		return s.wrap(ctx, "quit", err)
	}
	return nil
}

// wrap prefers the context error so a cancelled attempt reads as a timeout
// rather than as a closed connection.
func (s *SMTP) wrap(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp %s: %w", stage, ctxErr)
	}
	return fmt.Errorf("smtp %s: %w", stage, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *SMTP) compose(msg Message, rcpt string) ([]byte, error) {
	ctype := "text/plain; charset=UTF-8"
	if msg.HTML {
		ctype = "text/html; charset=UTF-8"
	}

	var b bytes.Buffer
	hdr := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	hdr("From", s.cfg.From)
	hdr("To", rcpt)
	hdr("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	hdr("Date", s.now().Format(time.RFC1123Z))
	hdr("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Domain))
	hdr("MIME-Version", "1.0")
	hdr("Content-Type", ctype)
	hdr("Content-Transfer-Encoding", "quoted-printable")
	b.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&b)
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	if _, err := qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return b.Bytes(), nil
}
