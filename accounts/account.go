package accounts

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig describes the connection pool for an account's database.
type PoolConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Database        string        `yaml:"database" validate:"required"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns        int32         `yaml:"max_conns" validate:"omitempty,min=1"`
	MinConns        int32         `yaml:"min_conns" validate:"omitempty,min=0"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnString renders the descriptor as a postgres URL.
func (p PoolConfig) ConnString() string {
	port := p.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(port),
		Path:   "/" + p.Database,
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

// RateLimit caps requests per second for one account. Zero means unlimited.
type RateLimit struct {
	RPS   float64 `yaml:"rps" validate:"min=0"`
	Burst int     `yaml:"burst" validate:"min=0"`
}

// Account is one configured tenant. Values are immutable once registered;
// a reload builds new Account values and swaps the whole registry.
type Account struct {
	ID             string         `yaml:"id" validate:"required"`
	Verifier       string         `yaml:"verifier" validate:"required"`
	SessionTimeout time.Duration  `yaml:"session_timeout" validate:"min=0"` // 0 never expires
	CSRF           bool           `yaml:"csrf"`
	LogDiagnostics bool           `yaml:"log_diagnostics"`
	QueryTimeout   time.Duration  `yaml:"query_timeout" validate:"min=0"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
	Pool           PoolConfig     `yaml:"pool"`
	Settings       map[string]any `yaml:"settings"` // verifier specific
}

// DecodeSettings decodes the verifier specific settings block into v.
func (a *Account) DecodeSettings(v any) error {
	if len(a.Settings) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(a.Settings)
	if err != nil {
		return fmt.Errorf("[Account.DecodeSettings] %s: %w", a.ID, err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("[Account.DecodeSettings] %s: %w", a.ID, err)
	}
	return nil
}
