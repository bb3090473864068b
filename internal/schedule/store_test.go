package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tgifai/strix/internal/eventlog"
)

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		names []string
	}{
		{"empty", "", nil},
		{"null document", "~\n", nil},
		{"mapping", "jobs:\n  - name: a\n    prompt: p\n    cron: \"0 9 * * *\"\n", []string{"a"}},
		{"bare list", "- name: a\n  prompt: p\n  time_of_day: \"09:00\"\n- name: b\n  prompt: q\n  cron: \"* * * * *\"\n", []string{"a", "b"}},
		{"mapping without jobs", "other: 1\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(jobs) != len(tt.names) {
				t.Fatalf("expected %d jobs, got %d", len(tt.names), len(jobs))
			}
			for i, n := range tt.names {
				if jobs[i].Name != n {
					t.Errorf("job %d: expected %q, got %q", i, n, jobs[i].Name)
				}
			}
		})
	}
}

func TestParseKeepsUndecodableEntries(t *testing.T) {
	data := "- name: a\n  prompt: p\n  cron: \"0 9 * * *\"\n- oops\n- name: b\n  prompt: {x: 1}\n  cron: \"0 9 * * *\"\n"
	jobs, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(jobs))
	}
	if err := jobs[0].Validate(); err != nil {
		t.Fatalf("good entry rejected: %v", err)
	}
	for _, i := range []int{1, 2} {
		err := jobs[i].Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Kind != eventlog.TypeSchedulerInvalidJob {
			t.Fatalf("entry %d: expected invalid job error, got %v", i, err)
		}
	}
	if jobs[2].Name != "b" {
		t.Fatalf("expected the name of a broken mapping to survive, got %q", jobs[2].Name)
	}
}

func TestParseRejectsScalars(t *testing.T) {
	if _, err := Parse([]byte("just a string\n")); err == nil {
		t.Fatal("expected error for scalar document")
	}
	if _, err := Parse([]byte("jobs: [\n")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestStoreMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "scheduler.yaml"))
	jobs, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

func TestStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scheduler.yaml")
	s := NewStore(path)

	in := []Job{
		{Name: "prediction-review", Prompt: "Review predictions.\nBe honest.", Cron: "0 9,21 * * *"},
		{Name: "check-in", Prompt: "Say hi", TimeOfDay: "08:15", ChannelID: "tg:42"},
	}
	if _, err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("tmp file should not remain after save")
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d jobs, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("job %d: got %+v, want %+v", i, out[i], in[i])
		}
	}

	data, _ := os.ReadFile(path)
	if got := string(data); got[:5] != "jobs:" {
		t.Fatalf("expected jobs mapping, got %q", got)
	}
}
