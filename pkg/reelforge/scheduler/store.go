package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the persistence boundary for jobs and rules. Writes must be
// atomic with respect to crashes; corrupt records on load are skipped, never
// fatal. Swapping the backend (file → sqlite) is local to this interface.
type Store interface {
	PutJob(job *Job) error
	PutRule(rule *Rule) error
	RemoveJob(id string) error
	RemoveRule(id string) error

	// LoadAll reads every persisted job and rule. Called once at startup.
	LoadAll() ([]*Job, []*Rule, error)
}

// FileStore persists one JSON file per entity under <root>/jobs and
// <root>/rules, named <id>.json. Writes go to a temp file first and are
// renamed into place.
type FileStore struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore creates the storage directories if needed.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range []string{"jobs", "rules"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}
	return &FileStore{root: root, logger: logger}, nil
}

func (s *FileStore) PutJob(job *Job) error {
	job.SchemaVersion = SchemaVersion
	data, err := marshalWithExtra(job, job.extra)
	if err != nil {
		return fmt.Errorf("marshaling job %q: %w", job.ID, err)
	}
	return s.writeAtomic(filepath.Join(s.root, "jobs", job.ID+".json"), data)
}

func (s *FileStore) PutRule(rule *Rule) error {
	rule.SchemaVersion = SchemaVersion
	data, err := marshalWithExtra(rule, rule.extra)
	if err != nil {
		return fmt.Errorf("marshaling rule %q: %w", rule.ID, err)
	}
	return s.writeAtomic(filepath.Join(s.root, "rules", rule.ID+".json"), data)
}

func (s *FileStore) RemoveJob(id string) error {
	return s.remove(filepath.Join(s.root, "jobs", id+".json"))
}

func (s *FileStore) RemoveRule(id string) error {
	return s.remove(filepath.Join(s.root, "rules", id+".json"))
}

func (s *FileStore) LoadAll() ([]*Job, []*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*Job
	err := s.eachFile("jobs", func(path string, data []byte) {
		var job Job
		extra, err := unmarshalWithExtra(data, &job)
		if err != nil || job.ID == "" {
			s.logger.Warn("skipping corrupt job record", "path", path, "error", err)
			return
		}
		job.extra = extra
		jobs = append(jobs, &job)
	})
	if err != nil {
		return nil, nil, err
	}

	var rules []*Rule
	err = s.eachFile("rules", func(path string, data []byte) {
		var rule Rule
		extra, err := unmarshalWithExtra(data, &rule)
		if err != nil || rule.ID == "" {
			s.logger.Warn("skipping corrupt rule record", "path", path, "error", err)
			return
		}
		rule.extra = extra
		rules = append(rules, &rule)
	})
	if err != nil {
		return nil, nil, err
	}

	return jobs, rules, nil
}

func (s *FileStore) eachFile(sub string, fn func(path string, data []byte)) error {
	dir := filepath.Join(s.root, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "path", path, "error", err)
			continue
		}
		fn(path, data)
	}
	return nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

func (s *FileStore) remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// marshalWithExtra serializes an entity and re-attaches any unknown fields
// captured at load time, so records written by a newer schema round-trip.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return json.MarshalIndent(json.RawMessage(data), "", "  ")
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, known := merged[k]; !known {
			merged[k] = raw
		}
	}
	return json.MarshalIndent(merged, "", "  ")
}

// unmarshalWithExtra parses an entity and returns the fields the schema
// doesn't know about.
func unmarshalWithExtra(data []byte, v any) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var knownKeys map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownKeys); err != nil {
		return nil, err
	}

	var extra map[string]json.RawMessage
	for k, val := range raw {
		if _, ok := knownKeys[k]; !ok {
			if extra == nil {
				extra = make(map[string]json.RawMessage)
			}
			extra[k] = val
		}
	}
	return extra, nil
}
