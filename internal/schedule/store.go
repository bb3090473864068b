package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultReviewPrompt = `Run the prediction-review skill.
Review journal predictions from 2-3 days ago.
Use logs/events.jsonl and chat history as ground truth.
For each reviewed prediction, append a journal entry recording whether it came true,
with the evidence and any behavior adjustments.`

// DefaultJobs is the schedule written by strix init.
func DefaultJobs() []Job {
	return []Job{{
		Name:   "prediction-review-twice-daily",
		Cron:   "0 9,21 * * *",
		Prompt: defaultReviewPrompt,
	}}
}

type file struct {
	Jobs []Job `yaml:"jobs"`
}

// Store reads and writes scheduler.yaml. A missing file is an empty
// schedule.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Read returns the raw file contents, or nil for a missing file.
func (s *Store) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return data, nil
}

func (s *Store) Load() ([]Job, error) {
	data, err := s.Read()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse accepts either {jobs: [...]} or a bare list of jobs.
func Parse(data []byte) ([]Job, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.ShortTag() == "!!null" {
		return nil, nil
	}
	switch doc.Kind {
	case yaml.SequenceNode:
		return decodeJobs(doc), nil
	case yaml.MappingNode:
		var f struct {
			Jobs yaml.Node `yaml:"jobs"`
		}
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode schedule file: %w", err)
		}
		switch {
		case f.Jobs.Kind == 0, f.Jobs.Kind == yaml.ScalarNode && f.Jobs.ShortTag() == "!!null":
			return nil, nil
		case f.Jobs.Kind == yaml.SequenceNode:
			return decodeJobs(&f.Jobs), nil
		default:
			return nil, errors.New("jobs must be a list")
		}
	default:
		return nil, errors.New("schedule file must be a mapping with jobs or a list of jobs")
	}
}

// decodeJobs decodes each entry on its own so one malformed entry only
// invalidates itself.
func decodeJobs(seq *yaml.Node) []Job {
	jobs := make([]Job, 0, len(seq.Content))
	for i, n := range seq.Content {
		var j Job
		if err := n.Decode(&j); err != nil {
			jobs = append(jobs, undecodable(n, fmt.Errorf("entry %d: %w", i+1, err)))
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}

func undecodable(n *yaml.Node, err error) Job {
	j := Job{raw: n, decodeErr: err.Error()}
	if n.Kind != yaml.MappingNode {
		return j
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Value == "name" && v.Kind == yaml.ScalarNode {
			j.Name = v.Value
		}
	}
	return j
}

func Marshal(jobs []Job) ([]byte, error) {
	if jobs == nil {
		jobs = []Job{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file{Jobs: jobs}); err != nil {
		return nil, fmt.Errorf("marshal schedule: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal schedule: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes jobs atomically (tmp + rename) and returns the bytes written.
func (s *Store) Save(jobs []Job) ([]byte, error) {
	data, err := Marshal(jobs)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create schedule directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write tmp schedule: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename schedule: %w", err)
	}
	return data, nil
}
