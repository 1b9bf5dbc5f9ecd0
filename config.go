package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded by LoadSettings when no files are given
const DefaultEnvFile = ".env"

// DefaultTokenTTL applies when a codec is built without a TTL
const DefaultTokenTTL = 15 * time.Minute

// Settings is the process configuration. It is loaded once at startup and
// passed by value; nothing mutates it afterwards.
type Settings struct {
	SecretKey                string        `env:"SECRET_KEY,required,notEmpty"`
	Algorithm                string        `env:"ALGORITHM,required,notEmpty"`
	AccessTokenExpireMinutes int           `env:"ACCESS_TOKEN_EXPIRE_MINUTES,required"`
	DatabaseURL              string        `env:"DATABASE_URL,required,notEmpty"`
	HTTPAddr                 string        `env:"HTTP_ADDR" envDefault:":8000"`
	BcryptCost               int           `env:"BCRYPT_COST" envDefault:"12"`
	HashConcurrency          int           `env:"HASH_CONCURRENCY" envDefault:"0"`
	UnifyLoginErrors         bool          `env:"UNIFY_LOGIN_ERRORS" envDefault:"false"`
	TokenIssuer              string        `env:"TOKEN_ISSUER"`
	RedisURL                 string        `env:"REDIS_URL"`
	PrincipalCacheTTL        time.Duration `env:"PRINCIPAL_CACHE_TTL" envDefault:"30s"`
	CORSAllowOrigins         string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	LogLevel                 string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout          time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadSettings reads the given .env files (DefaultEnvFile when none are
// given, missing files are skipped) into the process environment and parses
// Settings from it. Variables already set in the environment win over the
// files.
func LoadSettings(files ...string) (Settings, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Settings{}, NewStartupConfigurationError(err, fmt.Sprintf("unable to load env file %s", f))
		}
	}

	return parseSettings(env.Options{})
}

// SettingsFromMap parses Settings from an explicit environment, ignoring the
// process environment.
func SettingsFromMap(environment map[string]string) (Settings, error) {
	return parseSettings(env.Options{Environment: environment})
}

// SettingsFromEnviron is SettingsFromMap for os.Environ style slices
func SettingsFromEnviron(environ []string) (Settings, error) {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return SettingsFromMap(m)
}

func parseSettings(opts env.Options) (Settings, error) {
	var s Settings
	if opts.Environment == nil {
		opts.Environment = env.ToMap(os.Environ())
	}

	if err := env.ParseWithOptions(&s, opts); err != nil {
		return Settings{}, NewStartupConfigurationError(err, "missing or invalid settings")
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Validate checks the values env tags cannot express
func (s Settings) Validate() error {
	if strings.TrimSpace(s.SecretKey) == "" {
		return NewStartupConfigurationError(nil, "SECRET_KEY must not be empty")
	}

	if _, err := SigningMethod(s.Algorithm); err != nil {
		return NewStartupConfigurationError(err, fmt.Sprintf("ALGORITHM %q is not supported", s.Algorithm))
	}

	if s.AccessTokenExpireMinutes <= 0 {
		return NewStartupConfigurationError(nil, "ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}

	if _, err := ParseDatabaseURL(s.DatabaseURL); err != nil {
		return NewStartupConfigurationError(err, "DATABASE_URL is not supported")
	}

	if s.BcryptCost != 0 && (s.BcryptCost < minBcryptCost || s.BcryptCost > maxBcryptCost) {
		return NewStartupConfigurationError(nil,
			fmt.Sprintf("BCRYPT_COST must be between %d and %d", minBcryptCost, maxBcryptCost))
	}

	if s.HashConcurrency < 0 {
		return NewStartupConfigurationError(nil, "HASH_CONCURRENCY must not be negative")
	}

	return nil
}

// TokenTTL is the access token lifetime
func (s Settings) TokenTTL() time.Duration {
	if s.AccessTokenExpireMinutes <= 0 {
		return DefaultTokenTTL
	}
	return time.Duration(s.AccessTokenExpireMinutes) * time.Minute
}

// HashWorkers is the number of bcrypt operations allowed to run at once
func (s Settings) HashWorkers() int {
	if s.HashConcurrency > 0 {
		return s.HashConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// AllowedOrigins splits CORSAllowOrigins on commas
func (s Settings) AllowedOrigins() []string {
	out := []string{}
	for _, o := range strings.Split(s.CORSAllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// String hides the secret and database credentials
func (s Settings) String() string {
	return fmt.Sprintf("Settings{Algorithm:%s TTL:%s HTTPAddr:%s Database:%s Redis:%t UnifyLoginErrors:%t}",
		s.Algorithm, s.TokenTTL(), s.HTTPAddr, redactURL(s.DatabaseURL), s.RedisURL != "", s.UnifyLoginErrors)
}

// SigningMethod maps an algorithm name to a supported HMAC signing method
func SigningMethod(alg string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	}
	return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
}

func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
