package models

import "time"

// ScheduledJob describes one recurring job plus its last execution outcome.
type ScheduledJob struct {
	Slug           string
	Name           string
	Schedule       string // cron expression
	Handler        string
	TimeoutSeconds int
	RunOnStartup   bool
	Config         map[string]any

	LastRunAt      *time.Time
	LastDurationMS int64
	LastStatus     string
	NextRunAt      *time.Time
	ErrorMessage   *string
}

// Clone returns a deep copy safe to hand across goroutines.
func (j *ScheduledJob) Clone() *ScheduledJob {
	if j == nil {
		return nil
	}
	out := *j
	if j.Config != nil {
		out.Config = make(map[string]any, len(j.Config))
		for k, v := range j.Config {
			out.Config[k] = v
		}
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		out.LastRunAt = &t
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		out.NextRunAt = &t
	}
	if j.ErrorMessage != nil {
		s := *j.ErrorMessage
		out.ErrorMessage = &s
	}
	return &out
}
