// cmd/preflight/main.go
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hamed0406/delayedmailer/internal/config"
)

func main() {
	settings := flag.String("c", "", "settings file (JSON or YAML)")
	service := flag.Bool("service", false, "also check the long-running service settings")
	flag.Parse()

	if !preflight(os.Stdout, os.Stderr, *settings, *service) {
		os.Exit(1)
	}
}

// preflight reports on the settings and returns false if any check failed.
func preflight(out, errOut io.Writer, path string, service bool) bool {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(errOut, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(errOut, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(out, "✔", msg) }

	cfg, err := config.Load(path)
	if err != nil {
		fail(err.Error())
		return false
	}
	if err := cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fail(line)
		}
		return false
	}

	dm := cfg.DelayedMailer
	ok(fmt.Sprintf("policy=%s", dm.Policy))
	ok(fmt.Sprintf("smtp=%s:%d tls=%s", dm.SMTPAddress, dm.SMTPPort, dm.SMTPTLS))
	if len(dm.MailTo) == 0 {
		warn("mail_to is empty; recipients must be passed on the command line.")
	} else {
		ok("mail_to=" + strings.Join(dm.MailTo, ","))
	}
	if dm.SMTPUsername != "" && dm.SMTPTLS == "none" {
		warn("SMTP credentials configured with smtp_tls=none; they will be refused or sent in clear.")
	}

	switch cfg.Ledger.Backend {
	case "memory":
		warn("ledger backend is memory; state does not survive the process.")
	case "postgres":
		ok("ledger=postgres (DATABASE_URL present)")
	default:
		ok("ledger=redis " + cfg.Redis.Addr())
	}

	if cfg.API.Host == "" {
		warn("Sensu API host empty; silence and dependency filters are off.")
	} else {
		ok(fmt.Sprintf("sensu api=%s:%d", cfg.API.Host, cfg.API.Port))
	}

	if service {
		s := cfg.Service
		if len(s.AdminAPIKeys) == 0 {
			warn("ADMIN_API_KEYS is empty; ledger routes are open to anyone.")
		}
		switch {
		case len(s.PublicAPIKeys) == 0 && len(s.AdminAPIKeys) == 0:
			warn("PUBLIC_API_KEYS is empty; event intake is open to anyone.")
		case len(s.PublicAPIKeys) == 0:
			warn("PUBLIC_API_KEYS is empty; event intake accepts admin keys only.")
		}
		ok("API_ADDR=" + s.Addr)
		if s.NatsURL == "" {
			warn("NATS_URL empty; only HTTP intake is enabled.")
		} else {
			ok("NATS_URL present, subject=" + s.NatsSubject)
		}
		if len(s.Origins) == 0 {
			warn("ALLOWED_ORIGINS empty; CORS allows any origin.")
		}
	}

	if failed {
		return false
	}
	ok("preflight passed")
	return true
}
