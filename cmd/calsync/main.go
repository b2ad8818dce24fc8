// Command calsync runs the internship calendar sync engine: one-shot
// reconciliation of a timetable against a student's Google calendar, a
// background worker consuming queued syncs, ICS export, and credential
// linking helpers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/internhub/calsync/internal/calendar"
	"github.com/internhub/calsync/internal/config"
	"github.com/internhub/calsync/internal/event"
	"github.com/internhub/calsync/internal/export"
	"github.com/internhub/calsync/internal/notify"
	"github.com/internhub/calsync/internal/progress"
	"github.com/internhub/calsync/internal/sync"
	"github.com/internhub/calsync/internal/token"
	"github.com/internhub/calsync/internal/worker"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `Internship Calendar Sync Engine

Reconciles an internship timetable with a student's Google Calendar so
the calendar always reflects exactly the current timetable.

USAGE:
    %s --mode MODE [OPTIONS]

MODES:
    sync        Run one reconciliation now. Requires --request.
    enqueue     Queue a reconciliation on the background worker. Requires
                --request and Redis.
    worker      Run the background worker (asynq). Requires Redis.
    status      Print the sync progress for --internship-id / --email.
    export      Write the timetable from --request as an ICS feed to
                --out (default stdout).
    auth-url    Print the Google consent URL for linking a calendar.
    exchange    Exchange an authorization code (--code) and store the
                credential.
    check       Report whether the stored credential for --email works.

OPTIONS:
    --config FILE                 Path to JSON config file
    --request FILE                Path to a JSON reconcile request:
                                  {"studentEmail","internshipId","timetable":[...],
                                   "internshipTitle","defaultEventLink"}
    --email EMAIL                 Account email (status/check)
    --internship-id ID            Internship id (status)
    --code CODE                   Authorization code (exchange)
    --out FILE                    Output path (export)
    --google-credentials-path P   OAuth credentials JSON (overrides env/config)
    --credential-db PATH          SQLite credential store path
    --redis-addr ADDR             Redis address (worker/enqueue/redis progress)
    --progress-backend B          "memory" or "redis"
    -v, --verbose                 Debug logging
`, os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable debug logging")
	verboseFlagShort := flag.Bool("v", false, "Enable debug logging (shorthand)")
	mode := flag.String("mode", "sync", "sync | enqueue | worker | status | export | auth-url | exchange | check")
	configFile := flag.String("config", "", "Path to JSON config file")
	requestFile := flag.String("request", "", "Path to a JSON reconcile request")
	email := flag.String("email", "", "Account email")
	internshipID := flag.String("internship-id", "", "Internship id")
	code := flag.String("code", "", "Authorization code")
	outFile := flag.String("out", "", "Output path for export")
	credentialsPath := flag.String("google-credentials-path", "", "Path to Google OAuth credentials JSON")
	credentialDB := flag.String("credential-db", "", "SQLite credential store path")
	redisAddr := flag.String("redis-addr", "", "Redis address")
	progressBackend := flag.String("progress-backend", "", "Progress backend: memory or redis")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	log, err := buildLogger(*verboseFlag || *verboseFlagShort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.LoadConfig(*configFile, *credentialsPath, *credentialDB, *redisAddr, *progressBackend)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	app, err := buildApp(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("shutdown error", zap.Error(err))
		}
	}()

	ctx := context.Background()
	switch *mode {
	case "sync":
		err = app.runSync(ctx, *requestFile)
	case "enqueue":
		err = app.runEnqueue(ctx, cfg, *requestFile)
	case "worker":
		err = app.runWorker(cfg, *requestFile)
	case "status":
		err = app.runStatus(ctx, *internshipID, *email)
	case "export":
		err = app.runExport(*requestFile, *outFile)
	case "auth-url":
		fmt.Println(app.tokens.AuthCodeURL("calsync"))
	case "exchange":
		err = app.runExchange(ctx, *code)
	case "check":
		err = app.runCheck(ctx, *email)
	default:
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("command failed", zap.String("mode", *mode), zap.Error(err))
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type app struct {
	log      *zap.Logger
	store    *token.SQLiteStore
	tokens   *token.Manager
	progress progress.Store
	rdb      *redis.Client
	builder  *event.Builder
	syncer   *sync.Syncer
	cfg      *config.Config
}

func buildApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	oauthCfg, err := cfg.OAuth()
	if err != nil {
		return nil, err
	}

	store, err := token.NewSQLiteStore(cfg.CredentialDBPath)
	if err != nil {
		return nil, err
	}

	a := &app{log: log, store: store, cfg: cfg}
	a.tokens = token.NewManager(store, oauthCfg, log)

	if cfg.ProgressBackend == "redis" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.progress = progress.NewRedisStore(a.rdb)
	} else {
		a.progress = progress.NewMemoryStore()
	}

	loc := cfg.Location()
	a.builder = event.NewBuilder(loc, cfg.TimezoneName)

	retry := calendar.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	}
	factory := func(ctx context.Context, httpClient *http.Client) (calendar.Provider, error) {
		return calendar.NewGoogleClient(ctx, httpClient, retry, log)
	}

	a.syncer = sync.New(a.tokens, a.progress, &notify.LogNotifier{Log: log}, factory, a.builder, loc, log)
	return a, nil
}

func (a *app) Close() error {
	var err error
	if mem, ok := a.progress.(*progress.MemoryStore); ok {
		err = multierr.Append(err, mem.Close())
	}
	if a.rdb != nil {
		err = multierr.Append(err, a.rdb.Close())
	}
	return multierr.Append(err, a.store.Close())
}

func (a *app) loadRequest(path string) (sync.Request, error) {
	var req sync.Request
	if path == "" {
		return req, fmt.Errorf("--request FILE is required for this mode")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read request file: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse request file: %w", err)
	}
	return req, nil
}

func (a *app) runSync(ctx context.Context, requestFile string) error {
	req, err := a.loadRequest(requestFile)
	if err != nil {
		return err
	}
	result, err := a.syncer.Reconcile(ctx, req)
	if result != nil {
		printJSON(result)
	}
	return err
}

func (a *app) runEnqueue(ctx context.Context, cfg *config.Config, requestFile string) error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for enqueue mode")
	}
	req, err := a.loadRequest(requestFile)
	if err != nil {
		return err
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	enq := worker.NewEnqueuer(client, a.progress, a.log)
	defer enq.Close()
	return enq.EnqueueSync(ctx, req)
}

// runWorker consumes queued syncs. When a resync schedule and a request
// file are configured it also re-enqueues that sync on the schedule.
func (a *app) runWorker(cfg *config.Config, requestFile string) error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for worker mode")
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	handler := worker.NewHandler(a.syncer, a.log)
	srv, mux := worker.NewServer(redisOpt, cfg.WorkerConcurrency, handler, a.log)

	var sched *cron.Cron
	if cfg.ResyncSchedule != "" && requestFile != "" {
		req, err := a.loadRequest(requestFile)
		if err != nil {
			return err
		}
		client := asynq.NewClient(redisOpt)
		enq := worker.NewEnqueuer(client, a.progress, a.log)
		defer enq.Close()

		sched = cron.New()
		if _, err := sched.AddFunc(cfg.ResyncSchedule, func() {
			if err := enq.EnqueueSync(context.Background(), req); err != nil {
				a.log.Warn("scheduled resync enqueue failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("invalid resync schedule %q: %w", cfg.ResyncSchedule, err)
		}
		sched.Start()
		defer sched.Stop()
		a.log.Info("scheduled periodic resync", zap.String("schedule", cfg.ResyncSchedule))
	}

	a.log.Info("worker starting", zap.Int("concurrency", cfg.WorkerConcurrency))
	return srv.Run(mux)
}

func (a *app) runStatus(ctx context.Context, internshipID, email string) error {
	if internshipID == "" || email == "" {
		return fmt.Errorf("--internship-id and --email are required for status mode")
	}
	snap, ok, err := a.syncer.Progress(ctx, internshipID, email)
	if err != nil {
		return err
	}
	if !ok {
		// Absence means idle, not an error.
		snap = progress.Snapshot{Phase: progress.PhaseIdle}
	}
	printJSON(snap)
	return nil
}

func (a *app) runExport(requestFile, outFile string) error {
	req, err := a.loadRequest(requestFile)
	if err != nil {
		return err
	}
	out := os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return export.Write(out, req.Timetable, a.builder, event.Params{
		InternshipID:     req.InternshipID,
		InternshipTitle:  req.InternshipTitle,
		DefaultEventLink: req.DefaultEventLink,
	})
}

func (a *app) runExchange(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("--code is required for exchange mode")
	}
	cred, err := a.tokens.Exchange(ctx, code)
	if err != nil {
		return err
	}
	fmt.Printf("linked calendar for %s\n", cred.Email)
	return nil
}

func (a *app) runCheck(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("--email is required for check mode")
	}
	ok, err := a.tokens.Check(ctx, email)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("credential for %s is usable\n", email)
	} else {
		fmt.Printf("credential for %s needs re-authorization\n", email)
	}
	return nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
