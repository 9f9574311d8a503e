package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

// Defaults used when the environment does not set a value
const (
	DefaultAccessTTL        = 15 * time.Minute
	DefaultRefreshTTL       = 7 * 24 * time.Hour
	DefaultMaxLoginAttempts = 5
	DefaultLockTimeMinutes  = 15
	DefaultBcryptRounds     = 12
	DefaultIssuer           = "shelf-auth"
)

// Config is the process configuration, read once at startup
type Config struct {
	Env  string     `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTP HTTPConfig `yaml:"http"`
	DB   DBConfig   `yaml:"db"`
	Auth AuthConfig `yaml:"auth"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env:"HTTP_ADDRESS" env-default:":3000"`
}

type DBConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"DATABASE_URL" env-default:"file:shelf.db?cache=shared"`
	Debug  bool   `yaml:"debug" env:"DB_DEBUG" env-default:"false"`
}

// AuthConfig holds the token and lockout settings
type AuthConfig struct {
	AccessSecret     string   `yaml:"access_secret" env:"JWT_SECRET"`
	RefreshSecret    string   `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET"`
	AccessTTL        Duration `yaml:"access_ttl" env:"JWT_EXPIRATION" env-default:"15m"`
	RefreshTTL       Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_EXPIRATION" env-default:"7d"`
	Issuer           string   `yaml:"issuer" env:"JWT_ISSUER" env-default:"shelf-auth"`
	MaxLoginAttempts int      `yaml:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS" env-default:"5"`
	LockTime         int      `yaml:"lock_time" env:"LOCK_TIME" env-default:"15"`
	BcryptRounds     int      `yaml:"bcrypt_rounds" env:"BCRYPT_ROUNDS" env-default:"12"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Secrets are left empty.
func DefaultConfig() Config {
	return Config{
		Env:  "local",
		HTTP: HTTPConfig{Address: ":3000"},
		DB: DBConfig{
			Driver: "sqlite",
			DSN:    "file:shelf.db?cache=shared",
		},
		Auth: AuthConfig{
			AccessTTL:        Duration(DefaultAccessTTL),
			RefreshTTL:       Duration(DefaultRefreshTTL),
			Issuer:           DefaultIssuer,
			MaxLoginAttempts: DefaultMaxLoginAttempts,
			LockTime:         DefaultLockTimeMinutes,
			BcryptRounds:     DefaultBcryptRounds,
		},
	}
}

// LoadConfig reads the YAML file at path, when given, and then the environment.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	var err error

	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}

	if err != nil {
		return cfg, errors.Wrap(err, errors.CategoryValidation, "failed to read configuration").
			WithTextCode(TextCodeInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Duration is a time.Duration read from config. Besides the time.ParseDuration
// format it accepts whole days, as in "7d".
type Duration time.Duration

// ParseDuration parses "7d" style day counts and anything time.ParseDuration accepts
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, errors.New("invalid duration "+strconv.Quote(value), errors.CategoryValidation).
				WithTextCode(TextCodeInvalidConfig)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryValidation, "invalid duration "+strconv.Quote(value)).
			WithTextCode(TextCodeInvalidConfig)
	}
	return d, nil
}

// UnmarshalText implements encoding.TextUnmarshaler for env and YAML values
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText keeps printed configs readable
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// LockWindow is the lockout duration
func (c AuthConfig) LockWindow() time.Duration {
	return time.Duration(c.LockTime) * time.Minute
}

// TokenConfig projects the token issuer settings
func (c AuthConfig) TokenConfig() TokenConfig {
	return TokenConfig{
		AccessSecret:  []byte(c.AccessSecret),
		RefreshSecret: []byte(c.RefreshSecret),
		AccessTTL:     c.AccessTTL.Std(),
		RefreshTTL:    c.RefreshTTL.Std(),
		Issuer:        c.Issuer,
	}
}

// Validate fails when the process can not safely serve requests.
func (c Config) Validate() error {
	return c.Auth.Validate()
}

// Validate checks secrets and numeric bounds
func (c AuthConfig) Validate() error {
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return ErrMissingSigningKey
	}

	if c.AccessSecret == c.RefreshSecret {
		return invalidConfig("access and refresh secrets must differ", nil)
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return invalidConfig("token lifetimes must be positive", map[string]any{
			"access_ttl":  c.AccessTTL.String(),
			"refresh_ttl": c.RefreshTTL.String(),
		})
	}

	if c.MaxLoginAttempts < 1 {
		return invalidConfig("max login attempts must be at least 1", map[string]any{
			"max_login_attempts": c.MaxLoginAttempts,
		})
	}

	if c.LockTime < 1 {
		return invalidConfig("lock time must be at least one minute", map[string]any{
			"lock_time": c.LockTime,
		})
	}

	if c.BcryptRounds != 0 && (c.BcryptRounds < bcrypt.MinCost || c.BcryptRounds > bcrypt.MaxCost) {
		return invalidConfig("bcrypt rounds out of range", map[string]any{
			"bcrypt_rounds": c.BcryptRounds,
			"min":           bcrypt.MinCost,
			"max":           bcrypt.MaxCost,
		})
	}

	return nil
}

func invalidConfig(msg string, meta map[string]any) error {
	err := errors.New(msg, errors.CategoryValidation).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeInvalidConfig)
	if meta != nil {
		err = err.WithMetadata(meta)
	}
	return err
}
