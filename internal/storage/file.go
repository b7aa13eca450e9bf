package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileStore keeps all workouts in a single JSON document
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates store backed by file at path. The file is created on first save
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		now:  time.Now,
	}
}

// SaveWorkout appends record to the document
func (s *FileStore) SaveWorkout(ctx context.Context, workout Workout) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	workout, err := prepare(workout, s.now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return "", err
	}
	all = append(all, workout)
	if err := s.write(all); err != nil {
		return "", err
	}
	return workout.ID, nil
}

// History returns matching records, newest first
func (s *FileStore) History(ctx context.Context, filter Filter) ([]Workout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	s.mu.Lock()
	all, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var result []Workout
	for _, w := range all {
		if filter.matches(w) {
			result = append(result, w)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Close implements Store. Nothing is held open between calls
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() ([]Workout, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read workouts file")
	}
	if len(data) == 0 {
		return nil, nil
	}
	var all []Workout
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal workouts")
	}
	return all, nil
}

// write replaces the document through a temp file so a crash never leaves it half written
func (s *FileStore) write(all []Workout) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create directory for workouts")
	}
	tmp, err := os.CreateTemp(dir, ".workouts-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(all); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to encode workouts")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "failed to replace workouts file")
	}
	return nil
}
