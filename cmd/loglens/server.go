package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/loglens/loglens/internal/backup"
	"github.com/loglens/loglens/internal/duckdb"
	"github.com/loglens/loglens/internal/httpserver"
	"github.com/loglens/loglens/internal/index"
	"github.com/loglens/loglens/internal/ingest"
	"github.com/loglens/loglens/internal/journal"
	"github.com/loglens/loglens/internal/metrics"
	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/otlpserver"
	"github.com/loglens/loglens/internal/retention"
	"github.com/loglens/loglens/internal/scorer"
	"golang.org/x/sync/errgroup"
)

// runServer wires the store, ingestion surfaces, scorer, and API together and
// runs until a termination signal arrives.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()
	store.SetMaxConcurrentReads(cfg.MaxConcurrentReads)

	// Replay uncommitted journal records before accepting new writes so the
	// store is consistent when the ID counter is seeded.
	var ingestJournal *journal.Journal
	if cfg.JournalEnabled {
		ingestJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open ingest journal: %w", err)
		}
		if err := replayUncommittedJournal(ingestJournal, store, cfg.InsertBatchSize); err != nil {
			_ = ingestJournal.Close()
			return fmt.Errorf("failed to replay ingest journal: %w", err)
		}
	}

	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		Journal:        ingestJournal,
	})
	defer insertBuffer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	searchIndex := index.New()
	if err := searchIndex.RebuildAll(ctx, store); err != nil {
		return fmt.Errorf("failed to build dimension index: %w", err)
	}

	maxID, err := store.MaxEntryID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read max entry id: %w", err)
	}
	ingestSvc := ingest.NewService(insertBuffer, searchIndex, maxID)

	anomalyScorer := scorer.New(store, scorer.Config{
		ArtifactDir:  cfg.ModelDir,
		PollInterval: cfg.ScoreInterval,
		BatchSize:    cfg.ScoreBatchSize,
	})

	retentionManager := retention.New(store, searchIndex, retention.Config{
		RetentionDays: cfg.LogRetention,
	})

	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	aggregator := metrics.New(store, metrics.CacheConfig{
		TTL:     cfg.MetricsCacheTTL,
		MaxSize: cfg.MetricsCacheSize,
	})

	if cfg.APIEnabled {
		var sweeper httpserver.Sweeper
		if retentionManager != nil {
			sweeper = retentionManager
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, ingestSvc, store, aggregator, anomalyScorer, sweeper)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	var otlpServer *otlpserver.Server
	if cfg.OTLPEnabled {
		otlpServer = otlpserver.NewServer(cfg.OTLPAddr, ingestSvc)
		if err := otlpServer.Start(); err != nil {
			return fmt.Errorf("failed to start OTLP server: %w", err)
		}
		defer otlpServer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now — not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
	})

	sources := make([]NamedLogSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor := ingest.NewProcessor("")

	printStartupBanner(cfg, anomalyScorer.Degraded())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(anomalyScorer.Run(gctx))
	})

	if retentionManager != nil {
		g.Go(func() error {
			return ignoreCancel(retentionManager.Run(gctx))
		})
	}

	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				for _, e := range processor.ProcessEnvelope(env) {
					if _, err := ingestSvc.Append(gctx, e); err != nil {
						log.Printf("ingest: dropped line from %s: %v", env.Source, err)
					}
				}
			}
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()

	signal.Stop(sigCh)

	return nil
}

func ignoreCancel(err error) error {
	if err == nil || err == context.Canceled {
		return nil
	}
	return err
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "loglens")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "loglens.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func replayUncommittedJournal(j *journal.Journal, store *duckdb.Store, batchSize int) error {
	if j == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	batch := make([]*model.LogEntry, 0, batchSize)
	batchMaxSeq := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.InsertEntryBatch(batch); err != nil {
			return err
		}
		if batchMaxSeq > 0 {
			if err := j.Commit(batchMaxSeq); err != nil {
				return err
			}
		}
		replayed += len(batch)
		batch = make([]*model.LogEntry, 0, batchSize)
		batchMaxSeq = 0
		return nil
	}

	if err := j.Replay(func(seq uint64, e *model.LogEntry) error {
		copied := *e
		batch = append(batch, &copied)
		if seq > batchMaxSeq {
			batchMaxSeq = seq
		}
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}
	if replayed > 0 {
		log.Printf("ingest journal: replayed %d uncommitted entries", replayed)
	}
	return nil
}

func printStartupBanner(cfg appConfig, scoringDegraded bool) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	warn := yellow.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔═╗╦  ╔═╗╔╗╔╔═╗
    ║  ║ ║║ ╦║  ║╣ ║║║╚═╗
    ╩═╝╚═╝╚═╝╩═╝╚═╝╝╚╝╚═╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}

	if cfg.TCPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  TCP Ingest     %s", check, cyan.Render(cfg.TCPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  TCP Ingest     %s", dot, dim.Render("disabled")))
	}

	if cfg.OTLPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  OTLP gRPC      %s", check, cyan.Render(cfg.OTLPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  OTLP gRPC      %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Storage        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	if cfg.JournalEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Journal        %s", check, dim.Render(shortenPath(cfg.JournalPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Journal        %s", dot, dim.Render("disabled")))
	}
	if cfg.BackupEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dim.Render(shortenPath(cfg.BackupLocalDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Intelligence"))
	lines = append(lines, "")

	if scoringDegraded {
		lines = append(lines, fmt.Sprintf("    %s  Scoring        %s", warn, yellow.Render("degraded (no model artifact)")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Scoring        %s", check, dim.Render(shortenPath(cfg.ModelDir))))
	}
	if cfg.LogRetention > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", check, dim.Render(fmt.Sprintf("%d days", cfg.LogRetention))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
