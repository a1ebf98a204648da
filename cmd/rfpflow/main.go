package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rfpflow-io/rfpflow-ce/internal/api"
	"github.com/rfpflow-io/rfpflow-ce/internal/cache"
	"github.com/rfpflow-io/rfpflow-ce/internal/config"
	"github.com/rfpflow-io/rfpflow-ce/internal/database"
	"github.com/rfpflow-io/rfpflow-ce/internal/email/inbound/connector"
	"github.com/rfpflow-io/rfpflow-ce/internal/email/inbound/pipeline"
	"github.com/rfpflow-io/rfpflow-ce/internal/email/outbound"
	"github.com/rfpflow-io/rfpflow-ce/internal/extraction"
	"github.com/rfpflow-io/rfpflow-ce/internal/repository"
	"github.com/rfpflow-io/rfpflow-ce/internal/services/scheduler"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "rfpflow",
	Short: "RFPFlow - email-driven RFP and proposal management",
	Long: `RFPFlow manages the full RFP lifecycle: drafting requests with AI
assistance, inviting vendors over SMTP, and ingesting their email replies
through an IMAP poll pipeline that extracts and scores each proposal.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the mailbox poll scheduler",
	RunE:  runServe,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single mailbox poll cycle and exit",
	RunE:  runPoll,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rfpflow %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "Directory containing default.yaml (falls back to CONFIG_PATH, then ./configs)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPathFlag
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs"
	}
	if err := config.Load(path); err != nil {
		return nil, err
	}
	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

// app holds the wired components shared by serve and poll.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	vendors   *repository.VendorRepository
	rfps      *repository.RFPRepository
	proposals *repository.ProposalRepository
	adapter   *extraction.Adapter
	processor *pipeline.Processor
	fetcher   *connector.IMAPFetcher
	mailbox   connector.Mailbox
	cache     *cache.RedisCache
	close     func()
}

func buildApp(cfg *config.Config) (*app, error) {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		vendors:   repository.NewVendorRepository(db),
		rfps:      repository.NewRFPRepository(db),
		proposals: repository.NewProposalRepository(db),
		adapter:   extraction.NewAdapter(cfg.Extraction, extraction.WithAdapterLogger(logger)),
		mailbox:   connector.MailboxFromConfig(cfg.Mailbox),
	}

	directory := pipeline.NewIdentityDirectory(a.vendors)
	dedup := pipeline.NewDedupGuard(a.proposals)
	a.processor = pipeline.NewProcessor(directory, dedup, a.adapter, a.proposals, a.rfps,
		pipeline.WithProcessorLogger(logger))
	a.fetcher = connector.NewIMAPFetcher(
		connector.WithIMAPLogger(logger),
		connector.WithIMAPDialTimeout(cfg.Mailbox.DialTimeout))

	if cfg.Redis.Enabled {
		rc, err := cache.New(cfg.Redis)
		if err != nil {
			logger.Printf("redis unavailable, poll status sharing disabled: %v", err)
		} else {
			a.cache = rc
		}
	}

	a.close = func() {
		if a.cache != nil {
			a.cache.Close()
		}
		db.Close()
	}
	return a, nil
}

func (a *app) newPoller() *scheduler.MailboxPoller {
	if a.cache != nil {
		return scheduler.NewMailboxPoller(a.fetcher, a.mailbox, a.processor, a.cache, a.logger)
	}
	return scheduler.NewMailboxPoller(a.fetcher, a.mailbox, a.processor, nil, a.logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	location := time.UTC
	if cfg.App.Timezone != "" {
		loc, err := time.LoadLocation(cfg.App.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.App.Timezone, err)
		}
		location = loc
	}

	sched := scheduler.NewService(
		scheduler.WithLogger(a.logger),
		scheduler.WithLocation(location),
		scheduler.WithJobs(scheduler.DefaultJobs(cfg.Scheduler)))
	sched.RegisterHandler(scheduler.MailboxPollHandler, a.newPoller().Handle)

	mailer := outbound.NewMailer(cfg.SMTP, outbound.WithMailerLogger(a.logger))
	handlers := api.NewHandlers(a.vendors, a.rfps, a.proposals, a.adapter, mailer, sched, a.logger)

	router := gin.New()
	router.Use(gin.Recovery())
	api.RegisterRoutes(router, handlers)

	server := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sched.Run(ctx); err != nil {
			a.logger.Printf("scheduler stopped: %v", err)
		}
	}()

	errC := make(chan error, 1)
	go func() {
		a.logger.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Printf("shut down cleanly")
	return nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	timeout := cfg.Scheduler.CycleTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	jobs := scheduler.DefaultJobs(cfg.Scheduler)
	if err := a.newPoller().Handle(ctx, jobs[0]); err != nil {
		return fmt.Errorf("poll cycle: %w", err)
	}
	a.logger.Printf("poll cycle complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
