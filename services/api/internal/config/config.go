package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is where Load reads from when no path is given.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	DatabaseURL       string   `yaml:"databaseURL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	PublicBaseURL     string   `yaml:"publicBaseURL"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	CredentialSecret string `yaml:"credentialSecret"`
	StateSecret      string `yaml:"stateSecret"`

	// Optional bearer-token binding of userId. Disabled when both are empty.
	AuthSecret  string `yaml:"authSecret"`
	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationApiKey"`
	GenerationModel    string `yaml:"generationModel"`
	GenerationTimeout  string `yaml:"generationTimeout"`

	GoogleClientID       string `yaml:"googleClientId"`
	GoogleClientSecret   string `yaml:"googleClientSecret"`
	GoogleRedirectURL    string `yaml:"googleRedirectURL"`
	GoogleFormsEndpoint  string `yaml:"googleFormsEndpoint"`
	TypeformClientID     string `yaml:"typeformClientId"`
	TypeformClientSecret string `yaml:"typeformClientSecret"`
	TypeformRedirectURL  string `yaml:"typeformRedirectURL"`
	TypeformAPIBaseURL   string `yaml:"typeformApiBaseURL"`
	TallyAPIBaseURL      string `yaml:"tallyApiBaseURL"`
	TallyFormBaseURL     string `yaml:"tallyFormBaseURL"`

	BitlyToken   string `yaml:"bitlyToken"`
	BitlyDomain  string `yaml:"bitlyDomain"`
	BitlyBaseURL string `yaml:"bitlyBaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	ExportStream      string `yaml:"exportStream"`
	ExportConcurrency int    `yaml:"exportConcurrency"`
	ExportMaxRetries  int    `yaml:"exportMaxRetries"`
	ExportURLExpiry   string `yaml:"exportURLExpiry"`

	GenerateRateLimitPerMinute int `yaml:"generateRateLimitPerMinute"`
	SubmitRateLimitPerMinute   int `yaml:"submitRateLimitPerMinute"`
}

// Load reads config from path (defaults to ConfigPath) and applies env overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	strs := map[string]*string{
		"PORT":                   &cfg.Port,
		"LOG_LEVEL":              &cfg.LogLevel,
		"DATABASE_URL":           &cfg.DatabaseURL,
		"REDIS_ADDR":             &cfg.RedisAddr,
		"REDIS_PASSWORD":         &cfg.RedisPassword,
		"PUBLIC_BASE_URL":        &cfg.PublicBaseURL,
		"CREDENTIAL_SECRET":      &cfg.CredentialSecret,
		"OAUTH_STATE_SECRET":     &cfg.StateSecret,
		"AUTH_SECRET":            &cfg.AuthSecret,
		"AUTH_JWKS_URL":          &cfg.AuthJWKSURL,
		"JWT_ISSUER":             &cfg.JWTIssuer,
		"JWT_AUDIENCE":           &cfg.JWTAudience,
		"JWT_LEEWAY":             &cfg.JWTLeeway,
		"GENERATION_PROVIDER":    &cfg.GenerationProvider,
		"GENERATION_BASE_URL":    &cfg.GenerationBaseURL,
		"GENERATION_API_KEY":     &cfg.GenerationAPIKey,
		"GENERATION_MODEL":       &cfg.GenerationModel,
		"GOOGLE_CLIENT_ID":       &cfg.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":   &cfg.GoogleClientSecret,
		"GOOGLE_REDIRECT_URL":    &cfg.GoogleRedirectURL,
		"TYPEFORM_CLIENT_ID":     &cfg.TypeformClientID,
		"TYPEFORM_CLIENT_SECRET": &cfg.TypeformClientSecret,
		"TYPEFORM_REDIRECT_URL":  &cfg.TypeformRedirectURL,
		"BITLY_TOKEN":            &cfg.BitlyToken,
		"MINIO_ENDPOINT":         &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":       &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":       &cfg.MinioSecretKey,
		"MINIO_BUCKET":           &cfg.MinioBucket,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SUBMIT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitRateLimitPerMinute = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return errors.New("config: publicBaseURL is required (set in config.yaml or PUBLIC_BASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting, oauth state and exports")
	}
	if len(strings.TrimSpace(cfg.CredentialSecret)) < 16 {
		return errors.New("config: credentialSecret must be at least 16 characters (set in config.yaml or CREDENTIAL_SECRET)")
	}
	if len(strings.TrimSpace(cfg.StateSecret)) < 16 {
		return errors.New("config: stateSecret must be at least 16 characters (set in config.yaml or OAUTH_STATE_SECRET)")
	}
	if cfg.GoogleClientID != "" && cfg.GoogleRedirectURL == "" {
		return errors.New("config: googleRedirectURL is required when googleClientId is set")
	}
	if cfg.TypeformClientID != "" && cfg.TypeformRedirectURL == "" {
		return errors.New("config: typeformRedirectURL is required when typeformClientId is set")
	}
	if cfg.GenerateRateLimitPerMinute < 0 || cfg.SubmitRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.ExportConcurrency < 0 || cfg.ExportMaxRetries < 0 {
		return errors.New("config: export settings must be >= 0")
	}
	for name, raw := range map[string]string{
		"jwtLeeway":         cfg.JWTLeeway,
		"generationTimeout": cfg.GenerationTimeout,
		"exportURLExpiry":   cfg.ExportURLExpiry,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must be >= 0", raw)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
