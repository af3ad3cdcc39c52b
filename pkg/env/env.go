package env

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string
	TZ      string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	RedisURL string

	MongoURI string
	DBName   string

	// Speech/LLM provider (OpenAI)
	OpenAIApiKey    string
	OpenAIModel     string
	OpenAIMaxTokens int
	WhisperModel    string
	WhisperLanguage string
	TTSModel        string
	TTSVoice        string

	// Per-operation timeouts; every remote call must be bounded
	STTTimeoutMs      int
	GenerateTimeoutMs int
	TTSTimeoutMs      int
	ClassifyTimeoutMs int

	// Dialog limits
	MaxCallDurationSec int
	MaxDialogTurns     int
	ContextWindowTurns int
	SystemPrompt       string
	Greeting           string

	// Telephony provider
	TelephonySubdomain     string
	TelephonyAccountSID    string
	TelephonyAPIKey        string
	TelephonyAPIToken      string
	TelephonyCallerID      string
	TelephonyWebhookSecret string
	MediaBaseURL           string // Public HTTPS URL the provider connects back to for WSS media

	DefaultCountryCode string

	DialMaxConcurrency int
	APIRateLimitRPM    int

	LogLevel           string
	CORSAllowedOrigins string

	OTELEndpoint string
	OTELEnabled  bool
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is fine; production runs on environment variables alone.
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		TZ:      getEnv("TZ", "Europe/Moscow"),

		JWTSecret:   mustGetEnv("JWT_SECRET"),
		JWTIssuer:   getEnv("JWT_ISSUER", "halovoice-caller"),
		JWTAudience: getEnv("JWT_AUDIENCE", "halovoice-api"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:   getEnv("DB_NAME", "halovoice"),

		OpenAIApiKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIMaxTokens: getEnvInt("OPENAI_MAX_TOKENS", 200),
		WhisperModel:    getEnv("WHISPER_MODEL", "whisper-1"),
		WhisperLanguage: getEnv("WHISPER_LANGUAGE", ""),
		TTSModel:        getEnv("TTS_MODEL", "tts-1"),
		TTSVoice:        getEnv("TTS_VOICE", "alloy"),

		STTTimeoutMs:      getEnvInt("STT_TIMEOUT_MS", 10000),
		GenerateTimeoutMs: getEnvInt("GENERATE_TIMEOUT_MS", 5000),
		TTSTimeoutMs:      getEnvInt("TTS_TIMEOUT_MS", 5000),
		ClassifyTimeoutMs: getEnvInt("CLASSIFY_TIMEOUT_MS", 10000),

		MaxCallDurationSec: getEnvInt("MAX_CALL_DURATION_SEC", 120),
		MaxDialogTurns:     getEnvInt("MAX_DIALOG_TURNS", 12),
		ContextWindowTurns: getEnvInt("CONTEXT_WINDOW_TURNS", 10),
		SystemPrompt:       getEnv("SYSTEM_PROMPT", ""),
		Greeting:           getEnv("GREETING", ""),

		TelephonySubdomain:     getEnv("TELEPHONY_SUBDOMAIN", "api"),
		TelephonyAccountSID:    getEnv("TELEPHONY_ACCOUNT_SID", ""),
		TelephonyAPIKey:        getEnv("TELEPHONY_API_KEY", ""),
		TelephonyAPIToken:      getEnv("TELEPHONY_API_TOKEN", ""),
		TelephonyCallerID:      getEnv("TELEPHONY_CALLER_ID", ""),
		TelephonyWebhookSecret: getEnv("TELEPHONY_WEBHOOK_SIGNATURE_SECRET", ""),
		MediaBaseURL:           getEnv("MEDIA_BASE_URL", ""),

		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "+7"),

		DialMaxConcurrency: getEnvInt("DIAL_MAX_CONCURRENCY", 60),
		APIRateLimitRPM:    getEnvInt("API_RATE_LIMIT_RPM", 180),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
