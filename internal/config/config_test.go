package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ServiceURL != "http://localhost:8000" {
		t.Errorf("ServiceURL = %s", cfg.ServiceURL)
	}
	if cfg.ListenAddr != ":8090" {
		t.Errorf("ListenAddr = %s", cfg.ListenAddr)
	}
	if cfg.MaxDimension != 640 || cfg.JPEGQuality != 80 {
		t.Errorf("encoder defaults = %d/%d", cfg.MaxDimension, cfg.JPEGQuality)
	}
	if cfg.Scan.IntervalIdle != 400*time.Millisecond {
		t.Errorf("IntervalIdle = %v", cfg.Scan.IntervalIdle)
	}
	if cfg.Scan.IntervalActive != 150*time.Millisecond {
		t.Errorf("IntervalActive = %v", cfg.Scan.IntervalActive)
	}
	if cfg.Scan.IntervalBoost != 100*time.Millisecond {
		t.Errorf("IntervalBoost = %v", cfg.Scan.IntervalBoost)
	}
	if cfg.Scan.MaxConsecutiveErrors != 5 {
		t.Errorf("MaxConsecutiveErrors = %d", cfg.Scan.MaxConsecutiveErrors)
	}
	if cfg.Scan.RequestTimeout != 8*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Scan.RequestTimeout)
	}
	if !cfg.Scan.SkipIfProcessing {
		t.Error("SkipIfProcessing default should be true")
	}
	if cfg.Scan.ConfidenceThreshold != 0.25 {
		t.Errorf("ConfidenceThreshold = %v", cfg.Scan.ConfidenceThreshold)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCAN_SERVICE_URL", "http://detector:9000")
	t.Setenv("SCAN_INTERVAL_IDLE_MS", "1000")
	t.Setenv("SCAN_MAX_CONSECUTIVE_ERRORS", "3")
	t.Setenv("SCAN_SKIP_IF_PROCESSING", "false")
	t.Setenv("SCAN_CONFIDENCE_THRESHOLD", "0.5")

	cfg := Load()

	if cfg.ServiceURL != "http://detector:9000" {
		t.Errorf("ServiceURL = %s", cfg.ServiceURL)
	}
	if cfg.Scan.IntervalIdle != time.Second {
		t.Errorf("IntervalIdle = %v, expected 1s", cfg.Scan.IntervalIdle)
	}
	if cfg.Scan.MaxConsecutiveErrors != 3 {
		t.Errorf("MaxConsecutiveErrors = %d, expected 3", cfg.Scan.MaxConsecutiveErrors)
	}
	if cfg.Scan.SkipIfProcessing {
		t.Error("SkipIfProcessing override not applied")
	}
	if cfg.Scan.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %v, expected 0.5", cfg.Scan.ConfidenceThreshold)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SCAN_INTERVAL_IDLE_MS", "not-a-number")
	t.Setenv("SCAN_SKIP_IF_PROCESSING", "maybe")
	t.Setenv("SCAN_CONFIDENCE_THRESHOLD", "high")

	cfg := Load()

	if cfg.Scan.IntervalIdle != 400*time.Millisecond {
		t.Errorf("IntervalIdle = %v, malformed value must fall back", cfg.Scan.IntervalIdle)
	}
	if !cfg.Scan.SkipIfProcessing {
		t.Error("SkipIfProcessing must fall back to true")
	}
	if cfg.Scan.ConfidenceThreshold != 0.25 {
		t.Errorf("ConfidenceThreshold = %v, malformed value must fall back", cfg.Scan.ConfidenceThreshold)
	}
}
