// Package main implements a load test harness for the guardrail-tuner
// ingestion path. It generates synthetic metric samples and pushes them
// through the admin API, measuring throughput, latency, and error rate,
// and prints the resulting tuning report.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -url http://localhost:8080 \
//	  -rate 20 \
//	  -concurrency 4 \
//	  -duration 30s \
//	  -profile drift
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "Tuner admin API base URL")
		rate        = flag.Int("rate", 20, "Samples per second per worker")
		concurrency = flag.Int("concurrency", 4, "Number of parallel sample feeders")
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
		profile     = flag.String("profile", "steady", "Sample profile (steady, drift, noisy, degrading)")
		report      = flag.Bool("report", true, "Fetch and print the tuning report after the run")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	gen, err := newSampleGenerator(*profile)
	if err != nil {
		logger.Error("invalid profile", "error", err)
		os.Exit(1)
	}

	logger.Info("load test configuration",
		"url", *baseURL,
		"rate", *rate,
		"concurrency", *concurrency,
		"duration", *duration,
		"profile", *profile,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration+10*time.Second)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	client := &http.Client{Timeout: 10 * time.Second}
	samplesURL := *baseURL + "/tuner/v1/samples"

	var (
		totalSent    atomic.Int64
		totalErrors  atomic.Int64
		totalBackoff atomic.Int64
		latenciesMu  sync.Mutex
		latenciesNs  []int64
	)

	recordLatency := func(d time.Duration) {
		latenciesMu.Lock()
		latenciesNs = append(latenciesNs, d.Nanoseconds())
		latenciesMu.Unlock()
	}

	worker := func(workerID int) {
		interval := time.Second / time.Duration(*rate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		deadline := time.Now().Add(*duration)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			body, err := json.Marshal(gen.next())
			if err != nil {
				totalErrors.Add(1)
				continue
			}

			start := time.Now()
			resp, err := client.Post(samplesURL, "application/json", bytes.NewReader(body))
			if err != nil {
				totalErrors.Add(1)
				continue
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			recordLatency(time.Since(start))

			switch resp.StatusCode {
			case http.StatusAccepted:
				totalSent.Add(1)
			case http.StatusTooManyRequests:
				totalBackoff.Add(1)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			default:
				totalErrors.Add(1)
				logger.Warn("unexpected status", "worker", workerID, "status", resp.StatusCode)
			}
		}
	}

	logger.Info("starting load test", "workers", *concurrency, "duration", *duration)
	testStart := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id)
		}(i)
	}
	wg.Wait()

	testDuration := time.Since(testStart)

	sent := totalSent.Load()
	errs := totalErrors.Load()
	backoffs := totalBackoff.Load()

	latenciesMu.Lock()
	allLatencies := make([]int64, len(latenciesNs))
	copy(allLatencies, latenciesNs)
	latenciesMu.Unlock()
	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       LOAD TEST RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:       %s\n", testDuration.Round(time.Millisecond))
	fmt.Printf("Workers:        %d\n", *concurrency)
	fmt.Printf("Profile:        %s\n", *profile)
	fmt.Println("----------------------------------------")
	fmt.Println("Throughput:")
	fmt.Printf("  Accepted:     %d\n", sent)
	fmt.Printf("  Samples/sec:  %.2f\n", float64(sent)/testDuration.Seconds())
	fmt.Printf("  Rate-limited: %d\n", backoffs)
	fmt.Println("----------------------------------------")
	fmt.Println("Latency (per request):")
	fmt.Printf("  p50:          %s\n", formatNanos(percentile(allLatencies, 50)))
	fmt.Printf("  p95:          %s\n", formatNanos(percentile(allLatencies, 95)))
	fmt.Printf("  p99:          %s\n", formatNanos(percentile(allLatencies, 99)))
	fmt.Println("----------------------------------------")
	fmt.Println("Errors:")
	fmt.Printf("  Total:        %d\n", errs)
	if sent+errs > 0 {
		fmt.Printf("  Error rate:   %.2f%%\n", float64(errs)/float64(sent+errs)*100)
	}
	fmt.Println("========================================")

	if *report {
		printReport(client, *baseURL, logger)
	}

	if errs > 0 {
		os.Exit(1)
	}
}

// sampleGenerator produces a stream of synthetic metric samples following
// a named profile. Profiles shape the fields the analyzers react to so a
// run against a live tuner exercises real adjustments.
type sampleGenerator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	profile string
	seq     int64
}

func newSampleGenerator(profile string) (*sampleGenerator, error) {
	switch profile {
	case "steady", "drift", "noisy", "degrading":
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	return &sampleGenerator{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		profile: profile,
	}, nil
}

// next returns the JSON body for one sample. Timestamps are omitted so the
// tuner stamps arrival time; parallel feeders would otherwise race the
// monotonic-ingest check.
func (g *sampleGenerator) next() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++

	jitter := func(center, spread float64) float64 {
		v := center + (g.rng.Float64()*2-1)*spread
		return math.Max(0, math.Min(1, v))
	}

	s := map[string]float64{
		"entropy_score":             jitter(0.50, 0.02),
		"drift_velocity":            jitter(0.30, 0.02),
		"stability_score":           jitter(0.85, 0.02),
		"response_time_ms":          1500 + g.rng.Float64()*200,
		"detection_accuracy":        jitter(0.90, 0.02),
		"false_positive_rate":       jitter(0.10, 0.02),
		"false_negative_rate":       jitter(0.05, 0.01),
		"system_load":               jitter(0.40, 0.05),
		"intervention_success_rate": jitter(0.85, 0.02),
		"coherence_score":           jitter(0.90, 0.02),
	}

	switch g.profile {
	case "drift":
		// Drift velocity ramps up over the run.
		ramp := math.Min(0.4, float64(g.seq)*0.001)
		s["drift_velocity"] = jitter(0.30+ramp, 0.02)
	case "noisy":
		s["entropy_score"] = jitter(0.50, 0.25)
		s["stability_score"] = jitter(0.70, 0.25)
	case "degrading":
		ramp := math.Min(0.25, float64(g.seq)*0.0005)
		s["false_positive_rate"] = jitter(0.10+ramp, 0.02)
		s["detection_accuracy"] = jitter(0.90-ramp, 0.02)
	}
	return s
}

func printReport(client *http.Client, baseURL string, logger *slog.Logger) {
	resp, err := client.Get(baseURL + "/tuner/v1/report")
	if err != nil {
		logger.Warn("failed to fetch report", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("report request failed", "status", resp.StatusCode)
		return
	}

	var pretty bytes.Buffer
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn("failed to read report", "error", err)
		return
	}
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		logger.Warn("failed to format report", "error", err)
		return
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       TUNING REPORT")
	fmt.Println("========================================")
	fmt.Println(pretty.String())
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// formatNanos formats nanoseconds as a human-readable duration string.
func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
