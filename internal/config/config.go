package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerCfg struct {
	Listen         string `yaml:"listen"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// SiteCfg describes the origin the client runs on. Cookies are scoped to it.
type SiteCfg struct {
	URL string `yaml:"url"`
}

type PlatformCfg struct {
	URL       string `yaml:"url"`
	AnonKey   string `yaml:"anon_key"`
	JWTSecret string `yaml:"jwt_secret"` // optional; enables signature checks on access tokens
	TimeoutMs int    `yaml:"timeout_ms"`

	// consecutive failures before calls fail fast; 0 disables the breaker
	BreakerFailures   int `yaml:"breaker_failures"`
	BreakerCooldownMs int `yaml:"breaker_cooldown_ms"`
}

type CSRFCfg struct {
	CookieName string `yaml:"cookie_name"`
	HeaderName string `yaml:"header_name"`
	QueryParam string `yaml:"query_param"`
	TokenBytes int    `yaml:"token_bytes"`
	Secure     bool   `yaml:"secure"`
	SameSite   string `yaml:"same_site"` // Strict | Lax
}

type AuthCfg struct {
	SignInAttempts  int    `yaml:"sign_in_attempts"`
	SignInWindowSec int    `yaml:"sign_in_window_sec"`
	OAuthRedirect   string `yaml:"oauth_redirect"`
}

type RoutesCfg struct {
	Login     string `yaml:"login"`
	Register  string `yaml:"register"`
	Home      string `yaml:"home"`
	Forbidden string `yaml:"forbidden"`
}

type LoggingCfg struct {
	Level string `yaml:"level"` // info|debug
}

type Config struct {
	Server   ServerCfg   `yaml:"server"`
	Site     SiteCfg     `yaml:"site"`
	Platform PlatformCfg `yaml:"platform"`
	CSRF     CSRFCfg     `yaml:"csrf"`
	Auth     AuthCfg     `yaml:"auth"`
	Routes   RoutesCfg   `yaml:"routes"`
	Logging  LoggingCfg  `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML and applies defaults. It does not validate.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied and no platform set.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:5173"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 5000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 15000
	}
	if c.Site.URL == "" {
		c.Site.URL = "http://" + c.Server.Listen
	}
	if c.Platform.TimeoutMs == 0 {
		c.Platform.TimeoutMs = 10000
	}
	if c.Platform.BreakerCooldownMs == 0 {
		c.Platform.BreakerCooldownMs = 30000
	}
	if c.CSRF.CookieName == "" {
		c.CSRF.CookieName = "csrf-token"
	}
	if c.CSRF.HeaderName == "" {
		c.CSRF.HeaderName = "X-CSRF-Token"
	}
	if c.CSRF.QueryParam == "" {
		c.CSRF.QueryParam = "csrf_token"
	}
	if c.CSRF.TokenBytes == 0 {
		c.CSRF.TokenBytes = 32
	}
	if c.CSRF.SameSite == "" {
		c.CSRF.SameSite = "Strict"
	}
	if c.Auth.SignInAttempts == 0 {
		c.Auth.SignInAttempts = 5
	}
	if c.Auth.SignInWindowSec == 0 {
		c.Auth.SignInWindowSec = 60
	}
	if c.Routes.Login == "" {
		c.Routes.Login = "/login"
	}
	if c.Routes.Register == "" {
		c.Routes.Register = "/register"
	}
	if c.Routes.Home == "" {
		c.Routes.Home = "/"
	}
	if c.Routes.Forbidden == "" {
		c.Routes.Forbidden = "/error?code=403"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Platform.TimeoutMs) * time.Millisecond
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Platform.BreakerCooldownMs) * time.Millisecond
}

func (c *Config) SignInWindow() time.Duration {
	return time.Duration(c.Auth.SignInWindowSec) * time.Second
}

func (c *Config) Validate() error {
	if c.Platform.URL == "" {
		return errors.New("platform.url required")
	}
	if u, err := url.Parse(c.Platform.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("platform.url %q is not an absolute URL", c.Platform.URL)
	}
	if c.Platform.AnonKey == "" {
		return errors.New("platform.anon_key required")
	}
	if u, err := url.Parse(c.Site.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.url %q is not an absolute URL", c.Site.URL)
	}
	if c.CSRF.Secure && !strings.HasPrefix(c.Site.URL, "https://") {
		return errors.New("csrf.secure requires an https site.url")
	}
	if c.CSRF.TokenBytes < 16 || c.CSRF.TokenBytes > 64 {
		return errors.New("csrf.token_bytes must be between 16 and 64")
	}
	switch strings.ToLower(c.CSRF.SameSite) {
	case "strict", "lax":
	default:
		return errors.New("csrf.same_site must be 'Strict' or 'Lax'")
	}
	if c.Auth.SignInAttempts < 0 {
		return errors.New("auth.sign_in_attempts must be >= 0")
	}
	if c.Platform.TimeoutMs < 0 {
		return errors.New("platform.timeout_ms must be >= 0")
	}
	if c.Platform.BreakerFailures < 0 {
		return errors.New("platform.breaker_failures must be >= 0")
	}
	for name, p := range map[string]string{
		"routes.login":     c.Routes.Login,
		"routes.register":  c.Routes.Register,
		"routes.home":      c.Routes.Home,
		"routes.forbidden": c.Routes.Forbidden,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must be an absolute path", name)
		}
	}
	return nil
}
