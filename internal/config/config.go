package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config mirrors the handler settings file. Periods are in seconds, as in the
// settings file.
type Config struct {
	Redis         Redis         `json:"redis" yaml:"redis"`
	DelayedMailer DelayedMailer `json:"delayed_mailer" yaml:"delayed_mailer"`
	API           API           `json:"api" yaml:"api"`
	Ledger        Ledger        `json:"ledger" yaml:"ledger"`
	Service       Service       `json:"service" yaml:"service"`
}

type Redis struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

func (r Redis) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type DelayedMailer struct {
	SMTPAddress      string     `json:"smtp_address" yaml:"smtp_address"`
	SMTPPort         int        `json:"smtp_port" yaml:"smtp_port"`
	SMTPDomain       string     `json:"smtp_domain" yaml:"smtp_domain"`
	SMTPUsername     string     `json:"smtp_username" yaml:"smtp_username"`
	SMTPPassword     string     `json:"smtp_password" yaml:"smtp_password"`
	SMTPTLS          string     `json:"smtp_tls" yaml:"smtp_tls"` // auto | always | none
	MailFrom         string     `json:"mail_from" yaml:"mail_from"`
	MailTo           StringList `json:"mail_to" yaml:"mail_to"`
	Policy           string     `json:"policy" yaml:"policy"` // quiet_period | threshold
	SleepPeriod      int        `json:"sleep_period" yaml:"sleep_period"`
	AlertThreshold   int        `json:"alert_threshold" yaml:"alert_threshold"`
	OccurrenceExpiry int        `json:"occurrence_expiry" yaml:"occurrence_expiry"`
	SendTimeout      int        `json:"send_timeout" yaml:"send_timeout"`
	BodyFormat       string     `json:"body_format" yaml:"body_format"` // html | text
	TemplateFile     string     `json:"template_file" yaml:"template_file"`
}

func (d DelayedMailer) SleepPeriodDuration() time.Duration {
	return time.Duration(d.SleepPeriod) * time.Second
}

func (d DelayedMailer) OccurrenceExpiryDuration() time.Duration {
	return time.Duration(d.OccurrenceExpiry) * time.Second
}

func (d DelayedMailer) SendTimeoutDuration() time.Duration {
	return time.Duration(d.SendTimeout) * time.Second
}

// API is the monitoring API queried by the silence/dependency filters.
type API struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type Ledger struct {
	Backend     string `json:"backend" yaml:"backend"` // redis | postgres | memory
	DatabaseURL string `json:"database_url" yaml:"database_url"`
}

// Service holds the settings only the long-running mode reads.
type Service struct {
	Addr          string   `json:"addr" yaml:"addr"`
	LogDir        string   `json:"log_dir" yaml:"log_dir"`
	NatsURL       string   `json:"nats_url" yaml:"nats_url"`
	NatsSubject   string   `json:"nats_subject" yaml:"nats_subject"`
	PublicAPIKeys []string `json:"public_api_keys" yaml:"public_api_keys"`
	AdminAPIKeys  []string `json:"admin_api_keys" yaml:"admin_api_keys"`
	Origins       []string `json:"allowed_origins" yaml:"allowed_origins"`
	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string      `json:"trusted_proxies" yaml:"trusted_proxies"`
	PublicRPM      int           `json:"public_rpm" yaml:"public_rpm"`
	PublicBurst    int           `json:"public_burst" yaml:"public_burst"`
	AdminRPM       int           `json:"admin_rpm" yaml:"admin_rpm"`
	AdminBurst     int           `json:"admin_burst" yaml:"admin_burst"`
	PurgeInterval  time.Duration `json:"-" yaml:"-"`
}

// StringList accepts either a single string or a list in the settings file.
type StringList []string

func (s *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = splitList(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s *StringList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*s = splitList(n.Value)
		return nil
	}
	var many []string
	if err := n.Decode(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

func Defaults() Config {
	return Config{
		Redis: Redis{Host: "localhost", Port: 6379},
		DelayedMailer: DelayedMailer{
			SMTPAddress:      "localhost",
			SMTPPort:         25,
			SMTPDomain:       "localhost.localdomain",
			SMTPTLS:          "auto",
			Policy:           "quiet_period",
			SleepPeriod:      3600,
			AlertThreshold:   3,
			OccurrenceExpiry: 3600,
			SendTimeout:      10,
			BodyFormat:       "html",
		},
		Ledger: Ledger{Backend: "redis"},
		Service: Service{
			Addr:          "127.0.0.1:8080",
			LogDir:        "logs",
			NatsSubject:   "sensu.events",
			PublicRPM:     120,
			PublicBurst:   60,
			AdminRPM:      30,
			AdminBurst:    10,
			PurgeInterval: 10 * time.Minute,
		},
	}
}

// Load applies defaults, then the settings file at path (or $SETTINGS_FILE),
// then .env and the process environment. Callers run Validate once their own
// overrides are applied.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // optional

	cfg := Defaults()
	if path == "" {
		path = os.Getenv("SETTINGS_FILE")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		err = json.Unmarshal(b, c)
	}
	if err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}

	str("REDIS_HOST", &c.Redis.Host)
	num("REDIS_PORT", &c.Redis.Port)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)

	dm := &c.DelayedMailer
	str("SMTP_ADDRESS", &dm.SMTPAddress)
	num("SMTP_PORT", &dm.SMTPPort)
	str("SMTP_DOMAIN", &dm.SMTPDomain)
	str("SMTP_USERNAME", &dm.SMTPUsername)
	str("SMTP_PASSWORD", &dm.SMTPPassword)
	str("SMTP_TLS", &dm.SMTPTLS)
	str("MAIL_FROM", &dm.MailFrom)
	list("MAIL_TO", (*[]string)(&dm.MailTo))
	str("DM_POLICY", &dm.Policy)
	num("DM_SLEEP_PERIOD", &dm.SleepPeriod)
	num("DM_ALERT_THRESHOLD", &dm.AlertThreshold)
	num("DM_OCCURRENCE_EXPIRY", &dm.OccurrenceExpiry)
	num("DM_SEND_TIMEOUT", &dm.SendTimeout)
	str("DM_BODY_FORMAT", &dm.BodyFormat)
	str("DM_TEMPLATE_FILE", &dm.TemplateFile)

	str("SENSU_API_HOST", &c.API.Host)
	num("SENSU_API_PORT", &c.API.Port)
	str("SENSU_API_USER", &c.API.User)
	str("SENSU_API_PASSWORD", &c.API.Password)

	str("LEDGER_BACKEND", &c.Ledger.Backend)
	str("DATABASE_URL", &c.Ledger.DatabaseURL)

	s := &c.Service
	str("API_ADDR", &s.Addr)
	str("LOG_DIR", &s.LogDir)
	str("NATS_URL", &s.NatsURL)
	str("NATS_SUBJECT", &s.NatsSubject)
	list("PUBLIC_API_KEYS", &s.PublicAPIKeys)
	list("ADMIN_API_KEYS", &s.AdminAPIKeys)
	list("ALLOWED_ORIGINS", &s.Origins)
	list("TRUSTED_PROXIES", &s.TrustedProxies)
	num("PUBLIC_RPM", &s.PublicRPM)
	num("PUBLIC_BURST", &s.PublicBurst)
	num("ADMIN_RPM", &s.AdminRPM)
	num("ADMIN_BURST", &s.AdminBurst)
	if v := os.Getenv("PURGE_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			errs = append(errs, fmt.Errorf("PURGE_INTERVAL_MS: invalid value %q", v))
		} else {
			s.PurgeInterval = time.Duration(ms) * time.Millisecond
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	dm := c.DelayedMailer
	var errs []error
	switch dm.Policy {
	case "quiet_period":
		if dm.SleepPeriod <= 0 {
			errs = append(errs, fmt.Errorf("delayed_mailer.sleep_period must be > 0, got %d", dm.SleepPeriod))
		}
	case "threshold":
		if dm.AlertThreshold < 1 {
			errs = append(errs, fmt.Errorf("delayed_mailer.alert_threshold must be >= 1, got %d", dm.AlertThreshold))
		}
		if dm.OccurrenceExpiry <= 0 {
			errs = append(errs, fmt.Errorf("delayed_mailer.occurrence_expiry must be > 0, got %d", dm.OccurrenceExpiry))
		}
	default:
		errs = append(errs, fmt.Errorf("delayed_mailer.policy: unknown policy %q", dm.Policy))
	}
	if dm.MailFrom == "" {
		errs = append(errs, errors.New("delayed_mailer.mail_from is required"))
	}
	if dm.SMTPPort <= 0 || dm.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("delayed_mailer.smtp_port out of range: %d", dm.SMTPPort))
	}
	if dm.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("delayed_mailer.send_timeout must be > 0, got %d", dm.SendTimeout))
	}
	switch dm.SMTPTLS {
	case "auto", "always", "none":
	default:
		errs = append(errs, fmt.Errorf("delayed_mailer.smtp_tls: unknown mode %q", dm.SMTPTLS))
	}
	switch dm.BodyFormat {
	case "html", "text":
	default:
		errs = append(errs, fmt.Errorf("delayed_mailer.body_format: unknown format %q", dm.BodyFormat))
	}
	switch c.Ledger.Backend {
	case "redis", "memory":
	case "postgres":
		if c.Ledger.DatabaseURL == "" {
			errs = append(errs, errors.New("ledger.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend: unknown backend %q", c.Ledger.Backend))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
