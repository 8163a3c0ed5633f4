package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env holds the process-level settings read from the environment.
type Env struct {
	ConfigPath         string
	ControlAddr        string
	StatusAddr         string
	StateDB            string
	LogLevel           string
	Journal            string // sqlite or firestore
	OCREngine          string // tesseract or vertex
	OCRWorkers         int
	Rasterizer         string // auto, poppler or embedded
	ProjectID          string
	VertexRegion       string
	FirestoreDB        string
	FirestoreColl      string
	WorkflowLocation   string
	WorkflowID         string
	NotifyURL          string
	DefaultErrorPath   string
	GCSCredentialsFile string
	AWSRegion          string
	AWSAccessKey       string
	AWSSecretKey       string
	ShutdownTimeout    time.Duration
	// Warnings lists values that were ignored in favour of defaults.
	Warnings []string
}

// LoadEnv seeds the environment from a .env file when present and reads Env.
func LoadEnv() Env {
	_ = godotenv.Load()

	var warnings []string
	env := Env{
		ConfigPath:         GetEnv("HOTFOLDER_CONFIG", "hotfolders.yaml"),
		ControlAddr:        GetEnv("HOTFOLDER_CONTROL_ADDR", "unix:///tmp/hotfolderflow.sock"),
		StatusAddr:         GetEnv("HOTFOLDER_STATUS_ADDR", ""),
		StateDB:            GetEnv("HOTFOLDER_STATE_DB", "hotfolderflow.db"),
		LogLevel:           GetEnv("HOTFOLDER_LOG_LEVEL", "info"),
		Journal:            GetEnv("HOTFOLDER_JOURNAL", "sqlite"),
		OCREngine:          GetEnv("HOTFOLDER_OCR_ENGINE", "tesseract"),
		OCRWorkers:         getEnvInt("HOTFOLDER_OCR_WORKERS", runtime.NumCPU(), &warnings),
		Rasterizer:         GetEnv("HOTFOLDER_RASTERIZER", "auto"),
		ProjectID:          GetEnv("PROJECT_ID", ""),
		VertexRegion:       GetEnv("VERTEX_REGION", "us-central1"),
		FirestoreDB:        GetEnv("FIRESTORE_DATABASE", ""),
		FirestoreColl:      GetEnv("FIRESTORE_COLLECTION", "hotfolder_runs"),
		WorkflowLocation:   GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:         GetEnv("WORKFLOW_ID", ""),
		NotifyURL:          GetEnv("NOTIFY_URL", ""),
		DefaultErrorPath:   GetEnv("HOTFOLDER_DEFAULT_ERROR_PATH", ""),
		GCSCredentialsFile: GetEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		AWSRegion:          GetEnv("AWS_REGION", "eu-central-1"),
		AWSAccessKey:       GetEnv("AWS_ACCESS_KEY", ""),
		AWSSecretKey:       GetEnv("AWS_SECRET_KEY", ""),
		ShutdownTimeout:    getEnvDuration("HOTFOLDER_SHUTDOWN_TIMEOUT", 2*time.Minute, &warnings),
	}
	env.Warnings = warnings
	return env
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int, warnings *[]string) int {
	v := GetEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, v, def))
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration, warnings *[]string) time.Duration {
	v := GetEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, v, def))
		return def
	}
	return d
}
