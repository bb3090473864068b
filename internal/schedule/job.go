package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/tgifai/strix/internal/eventlog"
)

var ErrJobNotFound = errors.New("job not found")

// Job is one entry of scheduler.yaml. Exactly one of Cron and TimeOfDay is
// set; TimeOfDay fires daily at HH:MM UTC.
type Job struct {
	Name      string `yaml:"name" json:"name"`
	Prompt    string `yaml:"prompt" json:"prompt"`
	Cron      string `yaml:"cron,omitempty" json:"cron,omitempty"`
	TimeOfDay string `yaml:"time_of_day,omitempty" json:"time_of_day,omitempty"`
	ChannelID string `yaml:"channel_id,omitempty" json:"channel_id,omitempty"`

	// raw holds an entry that could not be decoded. It is rejected on load
	// and written back unchanged on save.
	raw       *yaml.Node
	decodeErr string
}

// MarshalYAML writes an undecodable entry back as it was read.
func (j Job) MarshalYAML() (interface{}, error) {
	if j.raw != nil {
		return j.raw, nil
	}
	type plain Job
	return plain(j), nil
}

// ValidationError reports why a job was rejected. Kind is the event type
// logged for it.
type ValidationError struct {
	Kind string
	Job  string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: job %q: %v", e.Kind, e.Job, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Normalize trims every field.
func (j Job) Normalize() Job {
	return Job{
		Name:      strings.TrimSpace(j.Name),
		Prompt:    strings.TrimSpace(j.Prompt),
		Cron:      strings.TrimSpace(j.Cron),
		TimeOfDay: strings.TrimSpace(j.TimeOfDay),
		ChannelID: strings.TrimSpace(j.ChannelID),
		raw:       j.raw,
		decodeErr: j.decodeErr,
	}
}

func (j Job) Validate() error {
	_, err := j.compile()
	return err
}

// compile validates the job and returns its fire schedule. Structural
// problems are reported before timing syntax.
func (j Job) compile() (cron.Schedule, error) {
	j = j.Normalize()
	invalid := func(kind string, err error) error {
		return &ValidationError{Kind: kind, Job: j.Name, Err: err}
	}

	hasCron, hasTime := j.Cron != "", j.TimeOfDay != ""
	switch {
	case j.decodeErr != "":
		return nil, invalid(eventlog.TypeSchedulerInvalidJob, errors.New(j.decodeErr))
	case j.Name == "":
		return nil, invalid(eventlog.TypeSchedulerInvalidJob, errors.New("name is required"))
	case j.Prompt == "":
		return nil, invalid(eventlog.TypeSchedulerInvalidJob, errors.New("prompt is required"))
	case hasCron && hasTime:
		return nil, invalid(eventlog.TypeSchedulerInvalidJob, errors.New("cron and time_of_day are mutually exclusive"))
	case !hasCron && !hasTime:
		return nil, invalid(eventlog.TypeSchedulerInvalidJob, errors.New("one of cron or time_of_day is required"))
	}

	if hasCron {
		sched, err := parseCron(j.Cron)
		if err != nil {
			return nil, invalid(eventlog.TypeSchedulerInvalidCron, err)
		}
		return sched, nil
	}
	sched, err := parseTimeOfDay(j.TimeOfDay)
	if err != nil {
		return nil, invalid(eventlog.TypeSchedulerInvalidTime, err)
	}
	return sched, nil
}

// NextAfter reports when the job would next fire after from, in UTC.
func (j Job) NextAfter(from time.Time) (time.Time, error) {
	sched, err := j.compile()
	if err != nil {
		return time.Time{}, err
	}
	return nextFire(sched, from.UTC()), nil
}

// Timing is the job's schedule expression as written.
func (j Job) Timing() string {
	if j.Cron != "" {
		return j.Cron
	}
	return j.TimeOfDay + " UTC"
}
