package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 30 * time.Second
	defaultSessionIdleTimeout   = 2 * time.Hour
	defaultSweepInterval        = 5 * time.Minute
	defaultBarcodePrefix        = "20"
	defaultMaxBulkCount         = 500
	defaultOpenRateLimit        = 30
	defaultOpenRateWindow       = time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultJWKSURL              = "https://www.googleapis.com/oauth2/v3/certs"
	defaultAuthIssuers          = "https://accounts.google.com,accounts.google.com"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Editor      EditorConfig
	Idempotency IdempotencyConfig
	Auth        AuthConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures goods submission events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID    string
	GoodsTopic   string
	EmulatorHost string
}

// EditorConfig tunes editor sessions. OpenRateLimit caps session opens per operator within
// OpenRateWindow; zero disables the limit.
type EditorConfig struct {
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
	BarcodePrefix      string
	MaxBulkCount       int
	OpenRateLimit      int
	OpenRateWindow     time.Duration
}

// AuthConfig configures operator token verification. An empty audience leaves the editor
// trusting the X-Operator-ID header, which is meant for local development only.
type AuthConfig struct {
	Audience       string
	Issuers        []string
	JWKSURL        string
	AllowedDomains []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// the explicit map, in increasing precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	env := &envReader{lookup: func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}}

	cfg := Config{
		Server: ServerConfig{
			Port:           env.str("CONSOLE_SERVER_PORT", defaultPort),
			ReadTimeout:    env.duration("CONSOLE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   env.duration("CONSOLE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    env.duration("CONSOLE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: env.duration("CONSOLE_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("CONSOLE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("CONSOLE_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    env.str("CONSOLE_PUBSUB_PROJECT_ID", ""),
			GoodsTopic:   env.str("CONSOLE_PUBSUB_GOODS_TOPIC", ""),
			EmulatorHost: env.str("CONSOLE_PUBSUB_EMULATOR_HOST", ""),
		},
		Editor: EditorConfig{
			SessionIdleTimeout: env.duration("CONSOLE_EDITOR_SESSION_IDLE_TIMEOUT", defaultSessionIdleTimeout),
			SweepInterval:      env.duration("CONSOLE_EDITOR_SWEEP_INTERVAL", defaultSweepInterval),
			BarcodePrefix:      env.str("CONSOLE_EDITOR_BARCODE_PREFIX", defaultBarcodePrefix),
			MaxBulkCount:       env.integer("CONSOLE_EDITOR_MAX_BULK_COUNT", defaultMaxBulkCount),
			OpenRateLimit:      env.integer("CONSOLE_EDITOR_OPEN_RATE_LIMIT", defaultOpenRateLimit),
			OpenRateWindow:     env.duration("CONSOLE_EDITOR_OPEN_RATE_WINDOW", defaultOpenRateWindow),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("CONSOLE_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("CONSOLE_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("CONSOLE_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("CONSOLE_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Auth: AuthConfig{
			Audience:       env.str("CONSOLE_AUTH_AUDIENCE", ""),
			Issuers:        env.list("CONSOLE_AUTH_ISSUERS", defaultAuthIssuers),
			JWKSURL:        env.str("CONSOLE_AUTH_JWKS_URL", defaultJWKSURL),
			AllowedDomains: env.list("CONSOLE_AUTH_ALLOWED_DOMAINS", ""),
		},
	}

	// Pub/Sub lives in the same project as Firestore unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg, env.invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	fields := append([]string(nil), invalid...)
	add := func(ok bool, name string) {
		if !ok {
			fields = append(fields, name)
		}
	}

	add(cfg.Server.Port != "", "Server.Port")
	add(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	add(cfg.Editor.SessionIdleTimeout > 0, "Editor.SessionIdleTimeout")
	add(cfg.Editor.SweepInterval > 0, "Editor.SweepInterval")
	add(isTwoDigits(cfg.Editor.BarcodePrefix), "Editor.BarcodePrefix")
	add(cfg.Editor.MaxBulkCount > 0, "Editor.MaxBulkCount")
	add(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	add(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	add(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	add(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	if strings.TrimSpace(cfg.Auth.Audience) != "" {
		add(strings.TrimSpace(cfg.Auth.JWKSURL) != "", "Auth.JWKSURL")
		add(len(cfg.Auth.Issuers) > 0, "Auth.Issuers")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func isTwoDigits(value string) bool {
	if len(value) != 2 {
		return false
	}
	return value[0] >= '0' && value[0] <= '9' && value[1] >= '0' && value[1] <= '9'
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// envReader resolves typed values and remembers keys whose values failed to parse.
type envReader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (r *envReader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *envReader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) list(key, fallback string) []string {
	value := r.str(key, fallback)
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return d
}

func (r *envReader) integer(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return parsed
}
