package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIAddr       string        `yaml:"api_addr"`
	CorpusDir     string        `yaml:"corpus_dir"`
	StagingDir    string        `yaml:"staging_dir"`
	IngestCmd     string        `yaml:"ingest_cmd"`
	QueryCmd      string        `yaml:"query_cmd"`
	IngestTimeout time.Duration `yaml:"-"`
	QueryTimeout  time.Duration `yaml:"-"`
	MaxUploadMB   int           `yaml:"max_upload_mb"`
	ValidatePDF   bool          `yaml:"validate_pdf"`
	AccountsURL   string        `yaml:"accounts_url"`
	EmailDomain   string        `yaml:"email_domain"`
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTTTL        time.Duration `yaml:"-"`
	RequireAuth   bool          `yaml:"require_auth"`
	LogLevel      string        `yaml:"log_level"`
}

func Defaults() Config {
	return Config{
		APIAddr:       ":5000",
		CorpusDir:     "./modele_rag/pdfs",
		StagingDir:    "./uploads",
		IngestCmd:     "python main.py",
		QueryCmd:      "python query_rag.py",
		IngestTimeout: 120 * time.Second,
		QueryTimeout:  120 * time.Second,
		MaxUploadMB:   128,
		ValidatePDF:   true,
		AccountsURL:   "mongodb://localhost:27017/anp_users",
		EmailDomain:   "@anp.org.ma",
		JWTTTL:        24 * time.Hour,
		LogLevel:      "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// RAGBRIDGE_CONFIG, and finally environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("RAGBRIDGE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	addr := getenv("RAGBRIDGE_API_ADDR", cfg.APIAddr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("RAGBRIDGE_API_ADDR") == "" {
		addr = ":" + port
	}
	cfg.APIAddr = addr
	cfg.CorpusDir = getenv("RAGBRIDGE_CORPUS_DIR", cfg.CorpusDir)
	cfg.StagingDir = getenv("RAGBRIDGE_STAGING_DIR", cfg.StagingDir)
	cfg.IngestCmd = getenv("RAGBRIDGE_INGEST_CMD", cfg.IngestCmd)
	cfg.QueryCmd = getenv("RAGBRIDGE_QUERY_CMD", cfg.QueryCmd)
	cfg.IngestTimeout = getenvDuration("RAGBRIDGE_INGEST_TIMEOUT", cfg.IngestTimeout)
	cfg.QueryTimeout = getenvDuration("RAGBRIDGE_QUERY_TIMEOUT", cfg.QueryTimeout)
	cfg.MaxUploadMB = getenvInt("RAGBRIDGE_MAX_UPLOAD_MB", cfg.MaxUploadMB)
	cfg.ValidatePDF = getenvBool("RAGBRIDGE_VALIDATE_PDF", cfg.ValidatePDF)
	cfg.AccountsURL = getenv("RAGBRIDGE_ACCOUNTS_URL", cfg.AccountsURL)
	cfg.EmailDomain = getenv("RAGBRIDGE_EMAIL_DOMAIN", cfg.EmailDomain)
	cfg.JWTSecret = getenv("RAGBRIDGE_JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTL = getenvDuration("RAGBRIDGE_JWT_TTL", cfg.JWTTTL)
	cfg.RequireAuth = getenvBool("RAGBRIDGE_REQUIRE_AUTH", cfg.RequireAuth)
	cfg.LogLevel = getenv("RAGBRIDGE_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(Command(c.IngestCmd)) == 0 {
		return errors.New("ingest command is empty")
	}
	if len(Command(c.QueryCmd)) == 0 {
		return errors.New("query command is empty")
	}
	if c.CorpusDir == "" || c.StagingDir == "" {
		return errors.New("corpus and staging directories are required")
	}
	if cleanDir(c.CorpusDir) == cleanDir(c.StagingDir) {
		return fmt.Errorf("staging dir must differ from corpus dir (%s)", c.CorpusDir)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RequireAuth && len(c.JWTSecret) < 32 {
		return errors.New("RAGBRIDGE_JWT_SECRET must be at least 32 characters when auth is required")
	}
	return nil
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Command splits a configured command line into program and base arguments.
// Quoting is not interpreted; paths with spaces belong in a wrapper script.
func Command(line string) []string {
	return strings.Fields(line)
}

// ParseLogLevel maps debug, info, warn and error to their slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
}

type fileConfig struct {
	Config        `yaml:",inline"`
	IngestTimeout string `yaml:"ingest_timeout"`
	QueryTimeout  string `yaml:"query_timeout"`
	JWTTTL        string `yaml:"jwt_ttl"`
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	*cfg = fc.Config
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.IngestTimeout, &cfg.IngestTimeout},
		{fc.QueryTimeout, &cfg.QueryTimeout},
		{fc.JWTTTL, &cfg.JWTTTL},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		*d.dst = v
	}
	return nil
}

func cleanDir(p string) string {
	return filepath.Clean(p)
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(k string, fallback bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(k string, fallback time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
