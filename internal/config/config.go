package config

import (
	"os"
	"regexp"
	"strconv"
	"time"
)

// Config собирает все настройки api и worker из окружения.
type Config struct {
	Addr        string
	PostgresDSN string
	RedisAddr   string

	QueueKey         string
	ProcessingKey    string
	ProcessingMapKey string

	Workers       int
	TemplatesPath string
	ScratchDir    string
	RetryFailed   bool

	// объектное хранилище артефактов
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// воркеры пайплайна
	FaceSwapURL    string
	FaceSwapAPIKey string
	EnhanceURL     string
	EnhanceAPIKey  string
	ComfyURL       string
	WorkflowPath   string

	PollInterval   time.Duration
	MaxPolls       int
	MaxWait        time.Duration
	SubmitAttempts int
	SubmitBackoff  time.Duration
	RelayAttempts  int
	RelayBackoff   time.Duration
}

func Load() Config {
	return Config{
		Addr:        getenv("PIPELINE_ADDR", ":8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),

		QueueKey:         getenv("REDIS_QUEUE_KEY", "runs:queue"),
		ProcessingKey:    getenv("REDIS_PROCESSING_KEY", "runs:processing"),
		ProcessingMapKey: getenv("REDIS_PROCESSING_MAP_KEY", "runs:processing:map"),

		Workers:       getenvInt("WORKERS", 2),
		TemplatesPath: getenv("TEMPLATES_PATH", "configs/templates.json"),
		ScratchDir:    getenv("SCRATCH_DIR", os.TempDir()),
		RetryFailed:   getenvBool("RETRY_FAILED", false),

		S3Endpoint:  getenv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    getenv("S3_BUCKET", "pipeline-artifacts"),
		S3UseSSL:    getenvBool("S3_USE_SSL", false),

		FaceSwapURL:    os.Getenv("FACESWAP_URL"),
		FaceSwapAPIKey: os.Getenv("FACESWAP_API_KEY"),
		EnhanceURL:     os.Getenv("ENHANCE_URL"),
		EnhanceAPIKey:  os.Getenv("ENHANCE_API_KEY"),
		ComfyURL:       os.Getenv("COMFY_URL"),
		WorkflowPath:   getenv("WORKFLOW_PATH", "configs/workflow_qwen.json"),

		PollInterval:   getenvDuration("POLL_INTERVAL", 2*time.Second),
		MaxPolls:       getenvInt("MAX_POLLS", 150),
		MaxWait:        getenvDuration("MAX_WAIT", 10*time.Minute),
		SubmitAttempts: getenvInt("SUBMIT_ATTEMPTS", 3),
		SubmitBackoff:  getenvDuration("SUBMIT_BACKOFF", 2*time.Second),
		RelayAttempts:  getenvInt("RELAY_ATTEMPTS", 3),
		RelayBackoff:   getenvDuration("RELAY_BACKOFF", 2*time.Second),
	}
}

// RedactedDSN маскирует пароль в DSN для логов.
func (c Config) RedactedDSN() string {
	re := regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)
	return re.ReplaceAllString(c.PostgresDSN, `://$1:****@`)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
