// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, business-day settings, request coordination constants
// (validity window, quotas, worker intervals) and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // BUSINESS_TZ must resolve on hosts without zoneinfo
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "dispatch-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ClientConfig holds settings for the staff client process.
type ClientConfig struct {
	ServerURL           string        // STAFF_SERVER_URL, http(s) base of the API server
	StaffID             string        // STAFF_ID
	StoreID             string        // STAFF_STORE_ID, store whose requests are watched
	RebuildDebounce     time.Duration // coalescing window for reconnection triggers
	SettleDelay         time.Duration // pause between teardown and resubscribe
	RecentConsumedGrace time.Duration // how long a completed request stays visible
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Business day
	BusinessTZ  string         // IANA zone name
	Location    *time.Location // resolved BusinessTZ
	CutoverHour int            // local hour at which the operating day starts
	QuotaPeriod string         // calendar|operating

	// Request coordination
	ActiveRequestPolicy string // allow|reject creating while one is active
	CoordinationFile    string // optional YAML overriding Coordination
	Coordination        Coordination

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// Staff client
	Client ClientConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// merges the optional coordination file, normalizes values, and validates
// the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "dispatch.db"),

		// Business day
		BusinessTZ:  getenv("BUSINESS_TZ", "Asia/Tokyo"),
		CutoverHour: getint("CUTOVER_HOUR", 1),
		QuotaPeriod: strings.ToLower(getenv("QUOTA_PERIOD", "calendar")),

		// Request coordination
		ActiveRequestPolicy: strings.ToLower(getenv("ACTIVE_REQUEST_POLICY", "allow")),
		CoordinationFile:    getenv("COORDINATION_FILE", ""),
		Coordination: Coordination{
			ValidityWindow:     getdur("VALIDITY_WINDOW", time.Hour),
			MonthlyQuotaByKind: parseQuotaList(getenv("MONTHLY_QUOTA_BY_KIND", "first_time_guest=1,returning_guest=4,staff_call=30")),
			HeartbeatInterval:  getdur("HEARTBEAT_INTERVAL", 30*time.Second),
			PollInterval:       getdur("POLL_INTERVAL", 30*time.Second),
			KeepaliveInterval:  getdur("KEEPALIVE_INTERVAL", 5*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "dispatch-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		// Staff client
		Client: ClientConfig{
			ServerURL:           strings.TrimRight(getenv("STAFF_SERVER_URL", "http://localhost:8080"), "/"),
			StaffID:             getenv("STAFF_ID", ""),
			StoreID:             getenv("STAFF_STORE_ID", ""),
			RebuildDebounce:     getdur("REBUILD_DEBOUNCE", 300*time.Millisecond),
			SettleDelay:         getdur("SETTLE_DELAY", 250*time.Millisecond),
			RecentConsumedGrace: getdur("RECENT_CONSUMED_GRACE", 10*time.Second),
		},
	}

	// --- coordination file ---
	if cfg.CoordinationFile != "" {
		fileCoord, err := LoadCoordination(cfg.CoordinationFile, cfg.Coordination)
		if err != nil {
			return cfg, err
		}
		cfg.Coordination = fileCoord
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	loc, err := time.LoadLocation(cfg.BusinessTZ)
	if err != nil {
		return cfg, fmt.Errorf("BUSINESS_TZ: %w", err)
	}
	cfg.Location = loc
	if cfg.CutoverHour < 0 || cfg.CutoverHour > 23 {
		return cfg, errors.New("CUTOVER_HOUR must be between 0 and 23")
	}
	switch cfg.QuotaPeriod {
	case "calendar", "operating":
	default:
		return cfg, errors.New("QUOTA_PERIOD must be one of: calendar, operating")
	}
	switch cfg.ActiveRequestPolicy {
	case "allow", "reject":
	default:
		return cfg, errors.New("ACTIVE_REQUEST_POLICY must be one of: allow, reject")
	}
	if err := cfg.Coordination.Validate(); err != nil {
		return cfg, err
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.Client.RebuildDebounce < 0 || cfg.Client.SettleDelay < 0 || cfg.Client.RecentConsumedGrace < 0 {
		return cfg, errors.New("client durations must be >= 0")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseQuotaList parses "kind=n,kind=n". Malformed pairs are skipped; a
// negative count is clamped to zero (disabled).
func parseQuotaList(s string) map[string]int {
	out := make(map[string]int)
	for _, pair := range splitCSV(s) {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || k == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		if n < 0 {
			n = 0
		}
		out[k] = n
	}
	return out
}

// formatQuotaList is the inverse of parseQuotaList with sorted keys.
func formatQuotaList(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(m[k]))
	}
	return strings.Join(parts, ",")
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
