package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"safescan/internal/scan"
)

// Config is the full configuration surface of the safescan binary
type Config struct {
	ServiceURL   string // Detection service base URL
	Source       string // Snapshot URL or image directory
	ListenAddr   string // Observer HTTP surface listen address
	MaxDimension int    // Encoder longest-side bound in pixels
	JPEGQuality  int    // Encoder JPEG quality

	Scan scan.Config // Scheduling loop parameters
}

// Load reads configuration from the environment, after loading an
// optional .env file from the working directory
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] could not load .env: %v", err)
	}

	return &Config{
		ServiceURL:   getEnv("SCAN_SERVICE_URL", "http://localhost:8000"),
		Source:       getEnv("SCAN_SOURCE", ""),
		ListenAddr:   getEnv("SCAN_LISTEN_ADDR", ":8090"),
		MaxDimension: getEnvAsInt("SCAN_MAX_DIMENSION", 640),
		JPEGQuality:  getEnvAsInt("SCAN_JPEG_QUALITY", 80),
		Scan: scan.Config{
			IntervalIdle:         getEnvAsMillis("SCAN_INTERVAL_IDLE_MS", 400),
			IntervalActive:       getEnvAsMillis("SCAN_INTERVAL_ACTIVE_MS", 150),
			IntervalBoost:        getEnvAsMillis("SCAN_INTERVAL_BOOST_MS", 100),
			MaxConsecutiveErrors: getEnvAsInt("SCAN_MAX_CONSECUTIVE_ERRORS", 5),
			RequestTimeout:       getEnvAsMillis("SCAN_REQUEST_TIMEOUT_MS", 8000),
			SkipIfProcessing:     getEnvAsBool("SCAN_SKIP_IF_PROCESSING", true),
			ConfidenceThreshold:  getEnvAsFloat("SCAN_CONFIDENCE_THRESHOLD", 0.25),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
