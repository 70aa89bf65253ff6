package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"burnScope/internal/model"
)

// FileStore is a local-run backend: burn records append to a JSONL file and
// checkpoints live in a small JSON file written atomically. The uniqueness set
// is rebuilt from the JSONL on open, so replays after a restart are absorbed
// the same way the Postgres backend absorbs them.
type FileStore struct {
	eventsPath     string
	checkpointPath string

	mu   sync.Mutex
	seen map[string]struct{}
}

type fileCheckpoint struct {
	LastBlock uint64 `json:"last_block"`
	UpdatedAt string `json:"updated_at"`
}

func OpenFileStore(eventsPath, checkpointPath string) (*FileStore, error) {
	s := &FileStore{
		eventsPath:     eventsPath,
		checkpointPath: checkpointPath,
		seen:           make(map[string]struct{}),
	}
	if err := s.loadSeen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) loadSeen() error {
	file, err := os.Open(s.eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.BurnRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("parse events file: %w", err)
		}
		s.seen[rec.Key()] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read events file: %w", err)
	}
	return nil
}

// RecordIfAbsent appends the record as a JSON line unless its key was already
// written.
func (s *FileStore) RecordIfAbsent(_ context.Context, rec model.BurnRecord) (RecordOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, ok := s.seen[key]; ok {
		return AlreadyPresent, nil
	}

	dir := filepath.Dir(s.eventsPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Inserted, fmt.Errorf("create events dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Inserted, fmt.Errorf("open events file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return Inserted, fmt.Errorf("marshal burn record: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return Inserted, fmt.Errorf("write burn record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return Inserted, fmt.Errorf("sync events file: %w", err)
	}

	s.seen[key] = struct{}{}
	return Inserted, nil
}

// Checkpoint returns the last fully-processed block for a token.
func (s *FileStore) Checkpoint(_ context.Context, token string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoints, err := s.readCheckpoints()
	if err != nil {
		return 0, false, err
	}
	cp, ok := checkpoints[strings.ToLower(token)]
	if !ok {
		return 0, false, nil
	}
	return cp.LastBlock, true, nil
}

// SetCheckpoint writes the checkpoint file atomically via tmp+rename. A lower
// height never overwrites a higher one.
func (s *FileStore) SetCheckpoint(_ context.Context, token string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoints, err := s.readCheckpoints()
	if err != nil {
		return err
	}

	key := strings.ToLower(token)
	if existing, ok := checkpoints[key]; ok && existing.LastBlock > height {
		return nil
	}
	checkpoints[key] = fileCheckpoint{
		LastBlock: height,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	dir := filepath.Dir(s.checkpointPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.Marshal(checkpoints)
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}

	tmpPath := s.checkpointPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.checkpointPath); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) readCheckpoints() (map[string]fileCheckpoint, error) {
	data, err := os.ReadFile(s.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]fileCheckpoint), nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	checkpoints := make(map[string]fileCheckpoint)
	if err := json.Unmarshal(data, &checkpoints); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return checkpoints, nil
}
