package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	RawMailDir string
	OutputDir  string
	DropDir    string

	KipuBaseURL       string
	KipuOccupancyPath string
	KipuSessionCookie string
	KipuRateLimitRPS  int
	KipuTimeoutMs     int
	KipuMaxPages      int

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float64
	OpenAITimeoutMs   int

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	ListenerProvider     string
	ListenerLabel        string
	ListenerIntervalSec  int
	ListenerFetchMax     int
	ListenerProcessBatch int
	ListenerAutoExport   bool

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		RawMailDir: getEnv("REPORT_RAW_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		DropDir:    getEnv("REPORT_DROP_DIR", filepath.Join(cwd, "data", "inbox")),

		KipuBaseURL:       getEnv("KIPU_BASE_URL", ""),
		KipuOccupancyPath: getEnv("KIPU_OCCUPANCY_PATH", "/occupancy"),
		KipuSessionCookie: getEnv("KIPU_SESSION_COOKIE", ""),
		KipuRateLimitRPS:  getEnvInt("KIPU_RATE_LIMIT_RPS", 2),
		KipuTimeoutMs:     getEnvInt("KIPU_TIMEOUT_MS", 30000),
		KipuMaxPages:      getEnvInt("KIPU_MAX_PAGES", 20),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIMaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 400),
		OpenAITemperature: getEnvFloat("OPENAI_TEMPERATURE", 0.3),
		OpenAITimeoutMs:   getEnvInt("OPENAI_TIMEOUT_MS", 60000),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		ListenerProvider:     getEnv("LISTENER_PROVIDER", "none"),
		ListenerLabel:        getEnv("LISTENER_LABEL", "INBOX"),
		ListenerIntervalSec:  getEnvInt("LISTENER_INTERVAL_SEC", 60),
		ListenerFetchMax:     getEnvInt("LISTENER_FETCH_MAX", 20),
		ListenerProcessBatch: getEnvInt("LISTENER_PROCESS_BATCH", 20),
		ListenerAutoExport:   getEnvBool("LISTENER_AUTO_EXPORT", true),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
