package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
	"github.com/rfpflow-io/rfpflow-ce/internal/email/inbound/connector"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

// Mailbox poll job identifiers.
const (
	MailboxPollSlug    = "mailbox.poll"
	MailboxPollHandler = "mailbox_poll"

	defaultPollSchedule = "*/2 * * * *"
	defaultCycleTimeout = 90 * time.Second
)

// DefaultJobs returns the standard job set for a serving process.
func DefaultJobs(cfg config.SchedulerConfig) []*models.ScheduledJob {
	schedule := cfg.PollSchedule
	if schedule == "" {
		schedule = defaultPollSchedule
	}
	timeout := cfg.CycleTimeout
	if timeout <= 0 {
		timeout = defaultCycleTimeout
	}
	return []*models.ScheduledJob{
		{
			Slug:           MailboxPollSlug,
			Name:           "Mailbox poll",
			Schedule:       schedule,
			Handler:        MailboxPollHandler,
			TimeoutSeconds: int(timeout / time.Second),
			RunOnStartup:   cfg.RunOnStartup,
		},
	}
}

type cycleBeginner interface {
	BeginCycle(ctx context.Context) error
}

type statusWriter interface {
	Set(ctx context.Context, key string, value any) error
}

// PollStatus is the shared record of the last poll outcome.
type PollStatus struct {
	RanAt    time.Time `json:"ranAt"`
	Duration string    `json:"duration"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
}

// MailboxPoller is the handler behind the mailbox poll job. One invocation
// is one full fetch cycle against the configured mailbox.
type MailboxPoller struct {
	fetcher   connector.Fetcher
	mailbox   connector.Mailbox
	processor interface {
		cycleBeginner
		connector.Handler
	}
	status statusWriter
	logger *log.Logger
}

// NewMailboxPoller wires the poll handler. The status writer may be nil;
// status sharing is best-effort.
func NewMailboxPoller(fetcher connector.Fetcher, mailbox connector.Mailbox, processor interface {
	cycleBeginner
	connector.Handler
}, status statusWriter, logger *log.Logger) *MailboxPoller {
	if logger == nil {
		logger = log.Default()
	}
	return &MailboxPoller{
		fetcher:   fetcher,
		mailbox:   mailbox,
		processor: processor,
		status:    status,
		logger:    logger,
	}
}

// Handle runs one poll cycle.
func (p *MailboxPoller) Handle(ctx context.Context, _ *models.ScheduledJob) error {
	started := time.Now()
	err := p.runCycle(ctx)
	p.writeStatus(started, time.Since(started), err)
	return err
}

func (p *MailboxPoller) runCycle(ctx context.Context) error {
	if err := p.processor.BeginCycle(ctx); err != nil {
		return err
	}
	return p.fetcher.Fetch(ctx, p.mailbox, p.processor)
}

func (p *MailboxPoller) writeStatus(ranAt time.Time, duration time.Duration, runErr error) {
	if p.status == nil {
		return
	}
	status := PollStatus{
		RanAt:    ranAt.UTC(),
		Duration: duration.Round(time.Millisecond).String(),
		Status:   statusSuccess,
	}
	if runErr != nil {
		status.Status = statusFailed
		status.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.status.Set(ctx, "poll:"+MailboxPollSlug, status); err != nil {
		p.logger.Printf("scheduler: poll status write failed: %v", err)
	}
}
