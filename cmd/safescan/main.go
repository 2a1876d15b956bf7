package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"safescan/internal/capture"
	"safescan/internal/config"
	"safescan/internal/encode"
	"safescan/internal/inference"
	"safescan/internal/scan"
)

func main() {
	var (
		serviceF = flag.String("service", "", "Detection service base URL (overrides SCAN_SERVICE_URL)")
		sourceF  = flag.String("source", "", "Snapshot URL or image directory (overrides SCAN_SOURCE)")
		listenF  = flag.String("listen", "", "Observer HTTP listen address (overrides SCAN_LISTEN_ADDR)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[safescan] ", log.Ltime)

	cfg := config.Load()
	if *serviceF != "" {
		cfg.ServiceURL = *serviceF
	}
	if *sourceF != "" {
		cfg.Source = *sourceF
	}
	if *listenF != "" {
		cfg.ListenAddr = *listenF
	}
	if cfg.Source == "" {
		logger.Fatal("no frame source configured: set SCAN_SOURCE or pass -source")
	}

	source, err := buildSource(cfg.Source)
	if err != nil {
		logger.Fatalf("frame source: %v", err)
	}

	encoder := encode.NewEncoder(cfg.MaxDimension, cfg.JPEGQuality)
	client := inference.NewClient(cfg.ServiceURL)
	scanner := scan.NewScanner(cfg.Scan, source, encoder, client, &logResults{logger: logger})

	// Observer surface: websocket events + status endpoints
	srv := newObserverServer(cfg.ListenAddr, scanner)
	errc := make(chan error)
	go func() {
		logger.Printf("observer surface listening on %s", cfg.ListenAddr)
		errc <- srv.ListenAndServe()
	}()

	// Interrupt handler, so SIGINT and SIGTERM stop the scan gracefully
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = scanner.Start(ctx)
	cancel()
	if err != nil {
		logger.Fatalf("start: %v", err)
	}

	logger.Printf("exiting (%v)", <-errc)

	scanner.Stop()
	scanner.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	logger.Println("exited")
}

// buildSource picks a frame source from the configured location: an HTTP
// snapshot endpoint or a local image directory
func buildSource(location string) (scan.FrameSource, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return capture.NewSnapshotSource(location), nil
	}
	return capture.NewDirSource(location)
}

// logResults is the demo's ResultsConsumer: it logs the finalization pass
type logResults struct {
	logger *log.Logger
}

func (r *logResults) OnFinalResult(result *scan.FinalResult) {
	if result.Err != nil {
		r.logger.Printf("session %s: finalization failed: %v", result.SessionID, result.Err)
		return
	}
	r.logger.Printf("session %s: final result with %d objects (%dx%d frame)",
		result.SessionID, result.Detections.Count(), result.Frame.Width, result.Frame.Height)
	for _, obj := range result.Detections.Objects {
		r.logger.Printf("  %s (%.2f)", obj.Name, obj.Confidence)
	}
}
