package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dogsight/alert-server/internal/engine"
	"github.com/dogsight/alert-server/internal/logger"
)

// Config is the full server configuration, loaded from the environment
// (optionally seeded from a .env file) and overridable by flags in main.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	PprofAddr   string

	DetectorURL string
	WebhookURL  string
	UserID      string

	DBPath      string
	JournalPath string

	StunServer string
	MaxPeers   int

	LogLevel string
	LogColor bool

	Engine engine.Config
}

// Load reads configuration from the environment. A missing .env file is not
// an error; system environment variables still apply.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("Config", "No .env file found, using system environment")
	}

	def := engine.DefaultConfig()

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8081"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		PprofAddr:   getEnv("PPROF_ADDR", ":6060"),
		DetectorURL: getEnv("DETECTOR_URL", "ws://localhost:8765/events"),
		WebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		UserID:      getEnv("USER_ID", ""),
		DBPath:      getEnv("DB_PATH", "./dogsight.db"),
		JournalPath: getEnv("JOURNAL_PATH", "./journal"),
		StunServer:  getEnv("STUN_SERVER", "stun:stun.l.google.com:19302"),
		MaxPeers:    getEnvInt("MAX_LIVE_PEERS", 4),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogColor:    getEnvBool("LOG_COLOR", true),
		Engine: engine.Config{
			TargetClass:             getEnv("TARGET_CLASS", def.TargetClass),
			MinConfidence:           getEnvFloat("MIN_CONFIDENCE", def.MinConfidence),
			MinArea:                 getEnvFloat("MIN_AREA", def.MinArea),
			MinHits:                 getEnvInt("MIN_HITS", def.MinHits),
			MinInsideHitsToRegister: getEnvInt("MIN_INSIDE_HITS", def.MinInsideHitsToRegister),
			DisappearedTimeout:      getEnvDuration("DISAPPEARED_TIMEOUT", def.DisappearedTimeout),
			PerTrackOutsideTimeout:  getEnvDuration("PER_TRACK_OUTSIDE_TIMEOUT", def.PerTrackOutsideTimeout),
			GlobalOutsideTimeout:    getEnvDuration("GLOBAL_OUTSIDE_TIMEOUT", def.GlobalOutsideTimeout),
			TickInterval:            getEnvDuration("TICK_INTERVAL", def.TickInterval),
			PruneWindow:             getEnvDuration("PRUNE_WINDOW", def.PruneWindow),
			KnownTTL:                getEnvDuration("KNOWN_TTL", def.KnownTTL),
			RefWidth:                getEnvInt("REF_WIDTH", def.RefWidth),
			RefHeight:               getEnvInt("REF_HEIGHT", def.RefHeight),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logger.Warn("Config", "Invalid integer for %s: %q, using %d", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.Warn("Config", "Invalid number for %s: %q, using %g", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logger.Warn("Config", "Invalid boolean for %s: %q, using %v", key, v, defaultVal)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn("Config", "Invalid duration for %s: %q, using %v", key, v, defaultVal)
	}
	return defaultVal
}
