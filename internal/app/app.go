// Package app builds the handler and its collaborators from configuration.
// Both the one-shot command and the service go through it.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/config"
	"github.com/hamed0406/delayedmailer/internal/debounce"
	"github.com/hamed0406/delayedmailer/internal/filter"
	"github.com/hamed0406/delayedmailer/internal/handler"
	"github.com/hamed0406/delayedmailer/internal/notify"
	"github.com/hamed0406/delayedmailer/internal/render"
	"github.com/hamed0406/delayedmailer/internal/repo"
	"github.com/hamed0406/delayedmailer/internal/repo/memory"
	"github.com/hamed0406/delayedmailer/internal/repo/postgres"
	rd "github.com/hamed0406/delayedmailer/internal/repo/redis"
	"github.com/hamed0406/delayedmailer/internal/sensu"
)

// OpenLedger returns the configured ledger. persistent keeps one redis client
// open for long-running processes.
func OpenLedger(ctx context.Context, cfg config.Config, log *zap.Logger, persistent bool) (repo.Ledger, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return memory.New(), nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Ledger.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "redis", "":
		return rd.New(rd.Options{
			Addr:       cfg.Redis.Addr(),
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Persistent: persistent,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func Policy(cfg config.Config, l repo.Ledger) (debounce.Policy, error) {
	dm := cfg.DelayedMailer
	return debounce.New(debounce.Options{
		Policy:           dm.Policy,
		SleepPeriod:      dm.SleepPeriodDuration(),
		AlertThreshold:   dm.AlertThreshold,
		OccurrenceExpiry: dm.OccurrenceExpiryDuration(),
	}, l)
}

func Renderer(cfg config.Config) (*render.Renderer, error) {
	dm := cfg.DelayedMailer
	tmpl := render.DefaultTemplate
	if dm.TemplateFile != "" {
		t, err := render.ParseTemplateFile(dm.TemplateFile)
		if err != nil {
			return nil, err
		}
		tmpl = t
	}
	r := render.New(tmpl, render.Format(dm.BodyFormat))
	if dm.Policy == debounce.NameThreshold {
		r.PeriodLabel = "Occurrence Window"
	}
	return r, nil
}

func Mailer(cfg config.Config, log *zap.Logger) *notify.SMTP {
	dm := cfg.DelayedMailer
	return notify.NewSMTP(notify.SMTPConfig{
		Address:  dm.SMTPAddress,
		Port:     dm.SMTPPort,
		Domain:   dm.SMTPDomain,
		From:     dm.MailFrom,
		Username: dm.SMTPUsername,
		Password: dm.SMTPPassword,
		Timeout:  dm.SendTimeoutDuration(),
		TLS:      notify.TLSMode(dm.SMTPTLS),
	}, log)
}

// Filters builds the standard chain; the API-backed filters are only added
// when an API host is configured.
func Filters(cfg config.Config) filter.Chain {
	var api filter.API
	if c := sensu.New(sensu.Config{
		Host:     cfg.API.Host,
		Port:     cfg.API.Port,
		User:     cfg.API.User,
		Password: cfg.API.Password,
		Timeout:  5 * time.Second,
	}); c != nil {
		api = c
	}
	return filter.Standard(api)
}

// Recipients prefers explicit addresses over delayed_mailer.mail_to.
func Recipients(cfg config.Config, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return cfg.DelayedMailer.MailTo
}

// Handler wires a handler around an already opened ledger. A nil mailer means
// SMTP delivery from configuration.
func Handler(cfg config.Config, l repo.Ledger, m notify.Mailer, recipients []string, status io.Writer, log *zap.Logger) (*handler.Handler, error) {
	p, err := Policy(cfg, l)
	if err != nil {
		return nil, err
	}
	r, err := Renderer(cfg)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = Mailer(cfg, log)
	}
	return handler.New(log, p, Filters(cfg), r, m, recipients, status), nil
}
