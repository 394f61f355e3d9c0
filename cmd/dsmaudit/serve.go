package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dsmaudit/dsmaudit/internal/archive"
	"github.com/dsmaudit/dsmaudit/internal/audit"
	"github.com/dsmaudit/dsmaudit/internal/backup"
	"github.com/dsmaudit/dsmaudit/internal/control"
	"github.com/dsmaudit/dsmaudit/internal/httpserver"
	"github.com/dsmaudit/dsmaudit/internal/spool"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// collectNowTimeout bounds a collection triggered over the control
// socket. It stays under the client's own deadline so the caller sees
// the daemon's error rather than a dead connection.
const collectNowTimeout = 4 * time.Minute

// runServe starts the archive API server with optional periodic
// collection.
func runServe(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	store, err := archive.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize archive store: %w", err)
	}
	defer store.Close()

	// Start retention cleaner for automatic record expiry
	retentionCleaner := archive.NewRetentionCleaner(store, cfg.LogRetention)
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	sp, err := spool.Open(cfg.SpoolPath)
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	defer sp.Close()
	if err := replaySpool(sp, store); err != nil {
		return fmt.Errorf("failed to replay spool: %w", err)
	}

	backupMgr, err := backup.NewManager(store, backup.Config{
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
	if backupMgr != nil {
		defer backupMgr.Stop()
	}

	apiServer := httpserver.NewServer(cfg.APIAddr, store)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	daemon := newDaemonController(cfg, store, sp)

	ctrlServer := control.NewServer(cfg.ControlSocket, daemon)
	if err := ctrlServer.Start(); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}
	defer ctrlServer.Stop()

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
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

	printServeBanner(cfg)

	if cfg.FetchInterval > 0 && cfg.OTPCode != "" {
		log.Printf("serve: otp-code is single use, periodic collection may fail after the first run")
	}

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Periodic collection loop
	if cfg.FetchInterval > 0 {
		g.Go(func() error {
			daemon.collect(gctx)
			ticker := time.NewTicker(cfg.FetchInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					daemon.collect(gctx)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("serve: errgroup exited with error: %v", err)
	}

	cancel()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

// replaySpool archives records a previous process staged but never
// confirmed. Replayed rows keep their original run IDs; the runs table
// is left alone since those runs already carry a terminal status.
func replaySpool(sp *spool.Spool, store *archive.Store) error {
	var order []string
	byRun := make(map[string][]spool.Record)
	var lastSeq uint64

	err := sp.Replay(func(seq uint64, rec spool.Record) error {
		if _, ok := byRun[rec.RunID]; !ok {
			order = append(order, rec.RunID)
		}
		byRun[rec.RunID] = append(byRun[rec.RunID], rec)
		lastSeq = seq
		return nil
	})
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}

	for _, runID := range order {
		var system []audit.SystemEntry
		var file []audit.FileEntry
		for _, rec := range byRun[runID] {
			if rec.Source == audit.SourceSystem {
				system = append(system, rec.SystemEntry())
			} else {
				file = append(file, rec.FileEntry())
			}
		}
		if err := store.InsertSystemEntries(runID, system); err != nil {
			return fmt.Errorf("replay run %s: %w", runID, err)
		}
		if err := store.InsertFileEntries(runID, file); err != nil {
			return fmt.Errorf("replay run %s: %w", runID, err)
		}
		log.Printf("spool: replayed %d system and %d filestation records for run %s", len(system), len(file), runID)
	}

	return sp.Commit(lastSeq)
}

var errCollectBusy = errors.New("collection already in progress")

// daemonController backs the control socket and owns the collection
// lock shared by the ticker and triggered runs.
type daemonController struct {
	cfg       appConfig
	store     *archive.Store
	spool     *spool.Spool
	startedAt time.Time
	collectMu sync.Mutex
}

func newDaemonController(cfg appConfig, store *archive.Store, sp *spool.Spool) *daemonController {
	return &daemonController{
		cfg:       cfg,
		store:     store,
		spool:     sp,
		startedAt: time.Now(),
	}
}

// collect performs one scheduled collection. Failures are recorded on
// the run row and logged; the server keeps going.
func (d *daemonController) collect(ctx context.Context) {
	if d.cfg.NASHost == "" || d.cfg.Account == "" || d.cfg.Password == "" {
		log.Printf("collect: skipped, nas-host/account/password not configured")
		return
	}
	if _, err := d.runCollection(ctx); err != nil && !errors.Is(err, errCollectBusy) {
		log.Printf("collect: %v", err)
	}
}

// runCollection pulls both logs, stages them in the spool, and archives
// them under a fresh run ID. Records reach the archive at least once:
// the spool entry is only committed after the run lands, so a crash
// mid-insert is replayed on the next start.
func (d *daemonController) runCollection(ctx context.Context) (control.CollectResult, error) {
	var res control.CollectResult

	if !d.collectMu.TryLock() {
		return res, errCollectBusy
	}
	defer d.collectMu.Unlock()

	runID := uuid.NewString()
	if err := d.store.BeginRun(runID, time.Now()); err != nil {
		return res, fmt.Errorf("begin run: %w", err)
	}

	col, err := collectLogs(ctx, d.cfg)
	if err != nil {
		if ferr := d.store.FinishRun(runID, time.Now(), 0, 0, archive.RunFailed); ferr != nil {
			log.Printf("collect: finish run: %v", ferr)
		}
		return res, err
	}

	records := make([]spool.Record, 0, len(col.system)+len(col.file))
	for _, e := range col.system {
		records = append(records, spool.FromSystem(runID, e))
	}
	for _, e := range col.file {
		records = append(records, spool.FromFile(runID, e))
	}
	lastSeq, err := d.spool.AppendBatch(records)
	if err != nil {
		// The pull is still archived below; only crash recovery is lost.
		log.Printf("spool: stage pull: %v", err)
	}

	status := archive.RunCompleted
	if err := d.store.InsertSystemEntries(runID, col.system); err != nil {
		status = archive.RunFailed
		log.Printf("collect: system insert failed: %v", err)
	}
	if err := d.store.InsertFileEntries(runID, col.file); err != nil {
		status = archive.RunFailed
		log.Printf("collect: filestation insert failed: %v", err)
	}
	if err := d.store.FinishRun(runID, time.Now(), len(col.system), len(col.file), status); err != nil {
		return res, fmt.Errorf("finish run: %w", err)
	}
	if status == archive.RunCompleted && lastSeq > 0 {
		if err := d.spool.Commit(lastSeq); err != nil {
			log.Printf("spool: commit: %v", err)
		}
	}

	log.Printf("collect: run %s archived %d system and %d filestation records", runID, len(col.system), len(col.file))
	res = control.CollectResult{RunID: runID, SystemCount: len(col.system), FileCount: len(col.file)}
	if status != archive.RunCompleted {
		return res, fmt.Errorf("run %s finished with failed inserts", runID)
	}
	return res, nil
}

// Status implements control.Controller.
func (d *daemonController) Status() (control.StatusInfo, error) {
	st := control.StatusInfo{
		Version:    version,
		PID:        os.Getpid(),
		Uptime:     time.Since(d.startedAt).Round(time.Second),
		DBPath:     d.cfg.DBPath,
		FetchEvery: d.cfg.FetchInterval,
	}
	if d.collectMu.TryLock() {
		d.collectMu.Unlock()
	} else {
		st.Collecting = true
	}

	count, err := d.store.TotalRecordCount()
	if err != nil {
		return st, fmt.Errorf("record count: %w", err)
	}
	st.RecordCount = count

	runs, err := d.store.Runs(1)
	if err != nil {
		return st, fmt.Errorf("last run: %w", err)
	}
	if len(runs) > 0 {
		st.LastRun = &runs[0]
	}
	return st, nil
}

// CollectNow implements control.Controller.
func (d *daemonController) CollectNow() (control.CollectResult, error) {
	if d.cfg.NASHost == "" || d.cfg.Account == "" || d.cfg.Password == "" {
		return control.CollectResult{}, errors.New("nas-host, account, and password are not configured on the daemon")
	}
	ctx, cancel := context.WithTimeout(context.Background(), collectNowTimeout)
	defer cancel()
	return d.runCollection(ctx)
}

// RecentRuns implements control.Controller.
func (d *daemonController) RecentRuns(limit int) ([]archive.RunInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	return d.store.Runs(limit)
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "dsmaudit")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "dsmaudit.log")
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

func printServeBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, renderLogo(cyan))
	lines = append(lines, "    "+dim.Render("v"+version))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	lines = append(lines, fmt.Sprintf("    %s  Control        %s", check, dim.Render(shortenPath(cfg.ControlSocket))))
	lines = append(lines, "")

	// Collection
	lines = append(lines, bold.Render("    Collection"))
	lines = append(lines, "")
	if cfg.FetchInterval > 0 {
		target := fmt.Sprintf("%s:%d every %s", cfg.NASHost, cfg.NASPort, cfg.FetchInterval)
		lines = append(lines, fmt.Sprintf("    %s  NAS Pull       %s", check, cyan.Render(target)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  NAS Pull       %s", dot, dim.Render("on demand")))
	}
	lines = append(lines, "")

	// Storage
	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Archive        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	if cfg.LogRetention > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", check, dim.Render(fmt.Sprintf("%d days", cfg.LogRetention))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Retention      %s", dot, dim.Render("keep all")))
	}
	if cfg.BackupEnabled {
		target := shortenPath(cfg.BackupLocalDir)
		if cfg.BackupBucketURL != "" {
			target += " + " + cfg.BackupBucketURL
		}
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", check, dim.Render(fmt.Sprintf("%s every %s", target, cfg.BackupInterval))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshots      %s", dot, dim.Render("disabled")))
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
