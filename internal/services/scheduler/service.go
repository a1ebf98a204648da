// Package scheduler runs the recurring jobs of the service, chiefly the
// mailbox poll cycle. Triggers of a job that is still running are dropped,
// never queued, so slow cycles cannot stack.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// Handler executes a scheduled job.
type Handler func(context.Context, *models.ScheduledJob) error

// Service coordinates scheduled job execution.
type Service struct {
	cron      *cron.Cron
	parser    cron.Parser
	handlers  map[string]Handler
	entries   map[string]cron.EntryID
	jobs      map[string]*models.ScheduledJob
	running   map[string]*sync.Mutex
	mu        sync.RWMutex
	handlerMu sync.RWMutex
	rootCtx   context.Context
	logger    *log.Logger
	startOnce sync.Once
	stopOnce  sync.Once
	location  *time.Location
}

// NewService builds a scheduler from the given options.
func NewService(opts ...Option) *Service {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = log.Default()
	}
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	cronEngine := options.Cron
	if cronEngine == nil {
		cronEngine = cron.New(cron.WithLocation(location))
	}
	var zeroParser cron.Parser
	parser := options.Parser
	if parser == zeroParser {
		parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}

	jobs := make(map[string]*models.ScheduledJob)
	running := make(map[string]*sync.Mutex)
	for _, job := range options.Jobs {
		if job == nil || job.Slug == "" || job.Schedule == "" {
			continue
		}
		jobs[job.Slug] = job.Clone()
		running[job.Slug] = &sync.Mutex{}
	}

	return &Service{
		cron:     cronEngine,
		parser:   parser,
		handlers: make(map[string]Handler),
		entries:  make(map[string]cron.EntryID),
		jobs:     jobs,
		running:  running,
		logger:   options.Logger,
		location: location,
	}
}

// Run starts the scheduler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.rootCtx = ctx
		s.scheduleAllJobs()
		s.cron.Start()
		s.runStartupJobs()
	})

	<-ctx.Done()
	s.stopCron()
	return nil
}

func (s *Service) runStartupJobs() {
	s.mu.RLock()
	var startupJobs []string
	for slug, job := range s.jobs {
		if job != nil && job.RunOnStartup {
			startupJobs = append(startupJobs, slug)
		}
	}
	s.mu.RUnlock()

	for _, slug := range startupJobs {
		s.mu.RLock()
		entryID := s.entries[slug]
		s.mu.RUnlock()
		go s.ExecuteJob(slug, entryID)
	}
}

func (s *Service) scheduleAllJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for slug, job := range s.jobs {
		if job == nil {
			continue
		}
		if err := s.addJobLocked(job.Clone()); err != nil {
			s.logger.Printf("scheduler: failed to schedule job %s: %v", slug, err)
		}
	}
}

func (s *Service) stopCron() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Printf("scheduler: timed out waiting for jobs to finish")
		}
	})
}

func (s *Service) addJobLocked(job *models.ScheduledJob) error {
	schedule, err := s.parser.Parse(job.Schedule)
	if err != nil {
		return err
	}

	slug := job.Slug
	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.ExecuteJob(slug, entryID)
	}))

	s.entries[slug] = entryID
	s.jobs[slug] = job
	if _, ok := s.running[slug]; !ok {
		s.running[slug] = &sync.Mutex{}
	}
	return nil
}

// ExecuteJob runs one job by slug. If a previous run of the same job is
// still in flight the trigger is recorded as skipped and dropped.
func (s *Service) ExecuteJob(slug string, entryID cron.EntryID) {
	job := s.jobSnapshot(slug)
	if job == nil {
		return
	}

	guard := s.runGuard(slug)
	if guard == nil || !guard.TryLock() {
		s.logger.Printf("scheduler: job %s still running, dropping trigger", slug)
		s.recordSkip(slug, entryID)
		return
	}
	defer guard.Unlock()

	handler := s.getHandler(job.Handler)
	if handler == nil {
		start := s.now()
		s.finalizeRun(job, slug, entryID, start, start, statusFailed, fmt.Errorf("handler %s not registered", job.Handler))
		return
	}

	ctx := s.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}

	start := s.now()
	jobCtx := ctx
	var cancel context.CancelFunc
	if job.TimeoutSeconds > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	}

	var runErr error
	func() {
		defer func() {
			if cancel != nil {
				cancel()
			}
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = handler(jobCtx, job)
	}()

	finish := s.now()
	status := statusSuccess
	if runErr != nil {
		status = statusFailed
	}

	s.finalizeRun(job, slug, entryID, start, finish, status, runErr)
}

func (s *Service) recordSkip(slug string, entryID cron.EntryID) {
	job := s.jobSnapshot(slug)
	if job == nil {
		return
	}
	job.LastStatus = statusSkipped
	if entry := s.cron.Entry(entryID); entry.ID != 0 && !entry.Next.IsZero() {
		next := entry.Next.In(s.location)
		job.NextRunAt = &next
	}
	s.applyExecutionResult(slug, job)
}

func (s *Service) finalizeRun(job *models.ScheduledJob, slug string, entryID cron.EntryID, start, finish time.Time, status string, runErr error) {
	duration := finish.Sub(start)
	cloned := job.Clone()
	cloned.LastRunAt = &finish
	cloned.LastDurationMS = duration.Milliseconds()
	cloned.LastStatus = status
	if runErr != nil {
		msg := runErr.Error()
		cloned.ErrorMessage = &msg
		s.logger.Printf("scheduler: job %s failed after %s: %v", slug, duration.Round(time.Millisecond), runErr)
	} else {
		cloned.ErrorMessage = nil
	}

	if entry := s.cron.Entry(entryID); entry.ID != 0 && !entry.Next.IsZero() {
		next := entry.Next.In(s.location)
		cloned.NextRunAt = &next
	} else {
		cloned.NextRunAt = nil
	}

	s.applyExecutionResult(slug, cloned)
}

func (s *Service) now() time.Time {
	if s.location == nil {
		return time.Now()
	}
	return time.Now().In(s.location)
}

func (s *Service) applyExecutionResult(slug string, job *models.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[slug] = job.Clone()
}

func (s *Service) jobSnapshot(slug string) *models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if job, ok := s.jobs[slug]; ok {
		return job.Clone()
	}
	return nil
}

func (s *Service) runGuard(slug string) *sync.Mutex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[slug]
}

func (s *Service) getHandler(name string) Handler {
	if name == "" {
		return nil
	}
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handlers[name]
}

// RegisterHandler attaches or replaces a handler for the given name. Passing
// nil removes the handler.
func (s *Service) RegisterHandler(name string, handler Handler) {
	if name == "" {
		return
	}
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if handler == nil {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = handler
}

// JobStatus returns a snapshot of a job's definition and last outcome.
func (s *Service) JobStatus(slug string) (*models.ScheduledJob, bool) {
	job := s.jobSnapshot(slug)
	if job == nil {
		return nil, false
	}
	return job, true
}

// Jobs lists snapshots of all registered jobs.
func (s *Service) Jobs() []*models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out
}
