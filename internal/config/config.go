package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// NATS (notification transport and remote face encoder)
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration
	AlertsSubject      string
	DetectSubject      string

	// Data locations
	EventStorePath string
	RegistryPath   string
	SnapshotDir    string

	// Capture
	FrameWidth  int
	FrameHeight int
	TargetFPS   int
	OpenTimeout time.Duration
	MaxCameras  int
	CameraURLs  []string // cameras added and started at boot

	// Detection
	DetectInterval       int // run detection on every Nth frame
	DetectTimeout        time.Duration
	RecognitionTolerance float64 // max encoding distance for a subject match
	ConfidenceThreshold  float64 // alertable confidence floor for unknowns

	// Worker failure containment
	MaxConsecutiveFailures int
	DegradedRetryDelay     time.Duration

	// Supervisor restart policy
	RestartBackoffMin  time.Duration
	RestartBackoffMax  time.Duration
	RestartMaxAttempts int
	StopTimeout        time.Duration

	// Event pipeline
	EventBufferSize  int
	IngestTimeout    time.Duration
	NotifyQueueSize  int
	AlertCooldown    time.Duration
	KnownLogCooldown time.Duration
	AppendRetries    int
	AppendRetryDelay time.Duration

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "worker-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// NATS
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),
		AlertsSubject:      getEnv("ALERTS_SUBJECT", "vigil.alerts"),
		DetectSubject:      getEnv("DETECT_SUBJECT", "vigil.detect"),

		// Data locations
		EventStorePath: getEnv("EVENT_STORE_PATH", "vigil-events.db"),
		RegistryPath:   getEnv("REGISTRY_PATH", "vigil-subjects.db"),
		SnapshotDir:    getEnv("SNAPSHOT_DIR", "intruders"),

		// Capture
		FrameWidth:  getEnvInt("FRAME_WIDTH", 320),
		FrameHeight: getEnvInt("FRAME_HEIGHT", 240),
		TargetFPS:   getEnvInt("TARGET_FPS", 15),
		OpenTimeout: getEnvDuration("OPEN_TIMEOUT", 10*time.Second),
		MaxCameras:  getEnvInt("MAX_CAMERAS", 10),
		CameraURLs:  getEnvList("CAMERA_URLS", nil),

		// Detection
		DetectInterval:       getEnvInt("DETECT_INTERVAL", 4),
		DetectTimeout:        getEnvDuration("DETECT_TIMEOUT", 5*time.Second),
		RecognitionTolerance: getEnvFloat("RECOGNITION_TOLERANCE", 0.6),
		ConfidenceThreshold:  getEnvFloat("CONFIDENCE_THRESHOLD", 0.8),

		// Worker failure containment
		MaxConsecutiveFailures: getEnvInt("MAX_CONSECUTIVE_FAILURES", 10),
		DegradedRetryDelay:     getEnvDuration("DEGRADED_RETRY_DELAY", 500*time.Millisecond),

		// Supervisor restart policy
		RestartBackoffMin:  getEnvDuration("RESTART_BACKOFF_MIN", 1*time.Second),
		RestartBackoffMax:  getEnvDuration("RESTART_BACKOFF_MAX", 30*time.Second),
		RestartMaxAttempts: getEnvInt("RESTART_MAX_ATTEMPTS", 5),
		StopTimeout:        getEnvDuration("STOP_TIMEOUT", 5*time.Second),

		// Event pipeline
		EventBufferSize:  getEnvInt("EVENT_BUFFER_SIZE", 256),
		IngestTimeout:    getEnvDuration("INGEST_TIMEOUT", 250*time.Millisecond),
		NotifyQueueSize:  getEnvInt("NOTIFY_QUEUE_SIZE", 64),
		AlertCooldown:    getEnvDuration("ALERT_COOLDOWN", 10*time.Second),
		KnownLogCooldown: getEnvDuration("KNOWN_LOG_COOLDOWN", 25*time.Second),
		AppendRetries:    getEnvInt("APPEND_RETRIES", 3),
		AppendRetryDelay: getEnvDuration("APPEND_RETRY_DELAY", 500*time.Millisecond),

		// Graceful shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
