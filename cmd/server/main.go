package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"gridtrack/config"
	"gridtrack/internal/app/router"
	clustermod "gridtrack/internal/module/cluster"
	jobmod "gridtrack/internal/module/job"
	"gridtrack/internal/pkg/client/mutt"
	"gridtrack/internal/pkg/client/sge"
	"gridtrack/internal/pkg/client/slurm"
	"gridtrack/internal/pkg/client/slurmdb"
	"gridtrack/internal/pkg/job"
	applog "gridtrack/internal/pkg/log"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/version"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           gridtrack
// @version         0.1.0
// @description     HPC batch job lifecycle tracker
// @schema			http
// @BasePath        /api/v1
func main() {
	// CLI flags
	var (
		addrFlag        = kingpin.Flag("addr", "Server listen address (e.g. :8080 or 127.0.0.1:8080)").Default(":8080").Envar("GRIDTRACK_ADDR").String()
		shutdownTimeout = kingpin.Flag("shutdown-timeout", "Graceful shutdown timeout (e.g. 10s)").Default("10s").Envar("GRIDTRACK_SHUTDOWN_TIMEOUT").String()
		logFormat       = kingpin.Flag("log-format", "Log format").Default("text").Envar("GRIDTRACK_LOG_FORMAT").Enum("text", "json")
		logOutput       = kingpin.Flag("log-output", "Log output destination").Default("stdout").Envar("GRIDTRACK_LOG_OUTPUT").Enum("stdout", "stderr", "file")
		logFile         = kingpin.Flag("log-file", "Log file path (used when --log-output=file)").Envar("GRIDTRACK_LOG_FILE").String()
		logLevel        = kingpin.Flag("log-level", "Minimum log level").Default("info").Envar("GRIDTRACK_LOG_LEVEL").Enum("debug", "info", "warn", "error")
		configFile      = kingpin.Flag("config", "Path to YAML config file").Short('c').Default("config.yaml").Envar("GRIDTRACK_CONFIG").String()
		schedulerFlag   = kingpin.Flag("scheduler", "Batch scheduler family; overrides the config file").Default("").Envar("GRIDTRACK_SCHEDULER").Enum("", "sge", "slurm")
	)
	kingpin.Version(version.Print("gridtrack"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger, cleanup, err := applog.NewLogger(*logOutput, *logFormat, *logFile, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// Load config
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configFile), slog.Any("err", err))
		os.Exit(1)
	}

	family := cfg.Server.Scheduler
	if *schedulerFlag != "" {
		family = *schedulerFlag
	}
	if family == "" {
		family = "sge"
	}

	// Capability check and client wiring happen once at startup; a missing
	// scheduler binary is fatal here, never silently degraded mid-run.
	var (
		sched job.Scheduler
		acct  job.Accountant
	)
	switch family {
	case "sge":
		if err := sge.Detect(); err != nil {
			logger.Error("scheduler tools unavailable", slog.String("family", family), slog.Any("err", err))
			os.Exit(1)
		}
		cli := (&sge.Client{}).Set(exec.CommandContext, logger)
		sge.SetDefault(cli)
		sched = cli
		acct = cli
	case "slurm":
		if err := slurm.Detect(); err != nil {
			logger.Error("scheduler tools unavailable", slog.String("family", family), slog.Any("err", err))
			os.Exit(1)
		}
		cli := (&slurm.Client{}).Set(exec.CommandContext, logger)
		slurm.SetDefault(cli)
		sched = cli
		if cfg.Server.Accounting.UseSlurmdb {
			dbcli, err := slurmdb.New(cfg.Server.Slurmdb, logger)
			if err != nil {
				logger.Error("failed to initialize slurmdb client", slog.Any("err", err))
				os.Exit(1)
			}
			slurmdb.SetDefault(dbcli)
			acct = dbcli
		}
	}
	job.SetDefaultScheduler(sched)
	job.SetDefaultAccountant(acct)
	logger.Info("scheduler client initialized", slog.String("family", family))

	// Monitor and accounting options for the job module
	interval := job.DefaultMonitorInterval
	if d, err := time.ParseDuration(cfg.Server.Monitor.Interval); err == nil && d > 0 {
		interval = d
	}
	var notifier job.Notifier
	if cfg.Server.Notify.Enabled {
		mcli := (&mutt.Client{}).Set(exec.CommandContext, logger)
		notifier = &mutt.MonitorNotifier{
			Client:     mcli,
			Recipients: cfg.Server.Notify.Recipients,
			ReplyTo:    cfg.Server.Notify.ReplyTo,
		}
	}
	maxAgeDays := job.DefaultMaxAgeDays
	if cfg.Server.Accounting.MaxAgeDays != nil {
		maxAgeDays = *cfg.Server.Accounting.MaxAgeDays
	}
	jobmod.Configure(jobmod.Options{
		MonitorInterval: interval,
		KillErrored:     cfg.Server.Monitor.KillErrored,
		Accounting: job.FilterOptions{
			Owner:      cfg.Server.Accounting.Owner,
			MaxAgeDays: maxAgeDays,
		},
		Notifier: notifier,
	})

	// Build router
	r := router.New()
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 注册所有模块
	router.Register(
		jobmod.Router{},
		clustermod.Router{},
	)
	router.MountAll(r)

	addr := *addrFlag

	// HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		logger.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	case <-quit:
	}
	logger.Info("shutting down server...")

	to, err := time.ParseDuration(*shutdownTimeout)
	if err != nil || to <= 0 {
		to = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), to)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}
	if dbcli := slurmdb.Default(); dbcli != nil {
		_ = dbcli.Close()
	}
	logger.Info("server exiting")
}
