package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/store"
)

const (
	snapshotFile = "thresholds.json"
	eventsFile   = "adjustments.log"
	historyFile  = "metrics_history.json"
)

// Store persists tuner state as files under a data directory: the threshold
// snapshot and metric history as JSON documents, the adjustment log as
// append-only JSON lines. Snapshot and history writes go through a temp
// file plus rename so a crash mid-write never corrupts the previous state.
type Store struct {
	dir string

	mu sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

var (
	_ store.SnapshotStore = (*Store)(nil)
	_ store.EventLog      = (*Store)(nil)
	_ store.HistoryStore  = (*Store)(nil)
)

func (s *Store) LoadSnapshot(_ context.Context) (*store.ThresholdSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap store.ThresholdSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != store.SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap *store.ThresholdSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.writeAtomic(snapshotFile, data)
}

func (s *Store) AppendEvent(_ context.Context, event model.AdjustmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, eventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return f.Sync()
}

func (s *Store) RecentEvents(_ context.Context, since time.Time) ([]model.AdjustmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, eventsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var out []model.AdjustmentEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.AdjustmentEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// A torn trailing line from a crash is expected; skip it.
			continue
		}
		if ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return out, nil
}

func (s *Store) LoadHistory(_ context.Context) ([]model.MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, historyFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var samples []model.MetricSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return samples, nil
}

func (s *Store) SaveHistory(_ context.Context, samples []model.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return s.writeAtomic(historyFile, data)
}

func (s *Store) writeAtomic(name string, data []byte) error {
	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
