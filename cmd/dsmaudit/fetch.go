package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dsmaudit/dsmaudit/internal/archive"
	"github.com/dsmaudit/dsmaudit/internal/audit"
	"github.com/dsmaudit/dsmaudit/internal/syno"
	"github.com/dsmaudit/dsmaudit/internal/timestamp"
	"github.com/google/uuid"
)

// collection holds one complete pull from the NAS, normalized but not
// yet filtered.
type collection struct {
	system []audit.SystemEntry
	file   []audit.FileEntry
	users  []syno.RawRecord
}

type fetchSummary struct {
	systemTotal int
	fileTotal   int
	systemKept  int
	fileKept    int
	systemPath  string
	filePath    string
	rankingPath string
	runID       string
}

// runFetch performs a one-shot collection: login, pull both logs,
// filter, export, archive, logout.
func runFetch(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	if err := checkFetchConfig(cfg); err != nil {
		return err
	}
	dates, err := parseDateRange(cfg)
	if err != nil {
		return err
	}

	printFetchBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	col, err := collectLogs(ctx, cfg)
	if err != nil {
		return err
	}

	// Workbook buffers hold the filtered view; the ranking sees every
	// filestation record inside the date range, and the archive keeps
	// the full pull.
	systemLog := audit.NewSystemLog()
	for _, e := range audit.FilterSystem(col.system, dates, cfg.Severity) {
		systemLog.AddEntry(e)
	}
	fileLog := audit.NewFileStationLog()
	for _, e := range audit.FilterFile(col.file, dates, cfg.Operation) {
		fileLog.AddEntry(e)
	}
	ranking := audit.BuildRanking(audit.FilterFile(col.file, dates, ""), audit.Profiles(col.users))

	summary := fetchSummary{
		systemTotal: len(col.system),
		fileTotal:   len(col.file),
		systemKept:  systemLog.Len(),
		fileKept:    fileLog.Len(),
	}

	if cfg.ExportEnabled {
		if summary.systemPath, err = systemLog.Flush(cfg.ExportDir); err != nil {
			return fmt.Errorf("export system log: %w", err)
		}
		if summary.filePath, err = fileLog.Flush(cfg.ExportDir); err != nil {
			return fmt.Errorf("export filestation log: %w", err)
		}
		if summary.rankingPath, err = ranking.Flush(cfg.ExportDir); err != nil {
			return fmt.Errorf("export ranking: %w", err)
		}
	}

	if cfg.ArchiveEnabled {
		if summary.runID, err = archiveCollection(cfg, col); err != nil {
			return err
		}
	}

	printFetchSummary(cfg, summary)
	return nil
}

func checkFetchConfig(cfg appConfig) error {
	if cfg.NASHost == "" {
		return fmt.Errorf("nas-host is required (DSMAUDIT_NAS_HOST or nas-host in the config file)")
	}
	if cfg.Account == "" || cfg.Password == "" {
		return fmt.Errorf("account and password are required")
	}
	return nil
}

func parseDateRange(cfg appConfig) (audit.DateRange, error) {
	var dates audit.DateRange
	if cfg.Since != "" {
		from, ok := timestamp.Date(cfg.Since)
		if !ok {
			return dates, fmt.Errorf("invalid since date: %q", cfg.Since)
		}
		dates.From = from
	}
	if cfg.Until != "" {
		to, ok := timestamp.Date(cfg.Until)
		if !ok {
			return dates, fmt.Errorf("invalid until date: %q", cfg.Until)
		}
		dates.To = to
	}
	return dates, nil
}

// collectLogs logs in, pulls both audit logs plus the user directory,
// and logs out. A logout failure is only logged since the session
// expires server-side anyway.
func collectLogs(ctx context.Context, cfg appConfig) (collection, error) {
	var col collection

	client := syno.NewClient(syno.Config{
		Host: cfg.NASHost,
		Port: cfg.NASPort,
		Retry: syno.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Wait:     cfg.RetryWait,
			Timeout:  cfg.RequestTimeout,
		},
	})

	if err := client.Login(ctx, cfg.Account, cfg.Password, cfg.OTPCode); err != nil {
		return col, classifyLoginError(cfg, err)
	}
	defer func() {
		// Fresh context so logout still runs after a Ctrl+C abort.
		lctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Logout(lctx); err != nil {
			log.Printf("syno: logout failed: %v", err)
		}
	}()

	rawSystem, err := client.LogsPaged(ctx, syno.LogTypeSystem, cfg.PageSize)
	if err != nil {
		return col, fmt.Errorf("collect system log: %w", err)
	}
	rawFile, err := client.LogsPaged(ctx, syno.LogTypeFileStation, cfg.PageSize)
	if err != nil {
		return col, fmt.Errorf("collect filestation log: %w", err)
	}
	users, err := client.UserInfo(ctx, "")
	if err != nil {
		return col, fmt.Errorf("collect user profiles: %w", err)
	}

	col.system = make([]audit.SystemEntry, 0, len(rawSystem))
	for _, rec := range rawSystem {
		entry, err := audit.NormalizeSystem(rec)
		if err != nil {
			return col, fmt.Errorf("normalize system log: %w", err)
		}
		col.system = append(col.system, entry)
	}
	col.file = make([]audit.FileEntry, 0, len(rawFile))
	for _, rec := range rawFile {
		col.file = append(col.file, audit.NormalizeFile(rec))
	}
	col.users = users
	return col, nil
}

func classifyLoginError(cfg appConfig, err error) error {
	var apiErr *syno.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.CredentialRejected():
		return fmt.Errorf("login rejected, check account and password: %w", err)
	case errors.As(err, &apiErr) && apiErr.OTPRejected():
		return fmt.Errorf("login rejected, check the otp-code: %w", err)
	case syno.IsTransient(err):
		return fmt.Errorf("cannot reach NAS at %s:%d: %w", cfg.NASHost, cfg.NASPort, err)
	}
	return fmt.Errorf("login: %w", err)
}

// archiveCollection stores the full normalized pull under a fresh run
// ID.
func archiveCollection(cfg appConfig, col collection) (string, error) {
	store, err := archive.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return "", fmt.Errorf("open archive store: %w", err)
	}
	defer store.Close()

	runID := uuid.NewString()
	if err := store.BeginRun(runID, time.Now()); err != nil {
		return "", fmt.Errorf("begin archive run: %w", err)
	}
	status := archive.RunCompleted
	if err := store.InsertSystemEntries(runID, col.system); err != nil {
		status = archive.RunFailed
		log.Printf("archive: system insert failed: %v", err)
	}
	if err := store.InsertFileEntries(runID, col.file); err != nil {
		status = archive.RunFailed
		log.Printf("archive: filestation insert failed: %v", err)
	}
	if err := store.FinishRun(runID, time.Now(), len(col.system), len(col.file), status); err != nil {
		return runID, fmt.Errorf("finish archive run: %w", err)
	}
	return runID, nil
}

func printFetchBanner(cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
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

	// Target
	lines = append(lines, bold.Render("    Target"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  NAS            %s", check, cyan.Render(fmt.Sprintf("%s:%d", cfg.NASHost, cfg.NASPort))))
	lines = append(lines, fmt.Sprintf("    %s  Account        %s", check, dim.Render(cfg.Account)))
	if cfg.OTPCode != "" {
		lines = append(lines, fmt.Sprintf("    %s  OTP            %s", check, dim.Render("enabled")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  OTP            %s", dot, dim.Render("not set")))
	}
	lines = append(lines, "")

	// Selection
	lines = append(lines, bold.Render("    Selection"))
	lines = append(lines, "")

	var dateRange string
	switch {
	case cfg.Since != "" && cfg.Until != "":
		dateRange = cfg.Since + " to " + cfg.Until
	case cfg.Since != "":
		dateRange = "from " + cfg.Since
	case cfg.Until != "":
		dateRange = "until " + cfg.Until
	}
	if dateRange != "" {
		lines = append(lines, fmt.Sprintf("    %s  Date Range     %s", check, dim.Render(dateRange)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Date Range     %s", dot, dim.Render("all dates")))
	}
	if cfg.Severity != "" {
		lines = append(lines, fmt.Sprintf("    %s  Severity       %s", check, dim.Render(cfg.Severity)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Severity       %s", dot, dim.Render("all")))
	}
	if cfg.Operation != "" {
		lines = append(lines, fmt.Sprintf("    %s  Operation      %s", check, dim.Render(cfg.Operation)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Operation      %s", dot, dim.Render("all")))
	}
	lines = append(lines, "")

	// Output
	lines = append(lines, bold.Render("    Output"))
	lines = append(lines, "")
	if cfg.ExportEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Workbooks      %s", check, dim.Render(shortenPath(cfg.ExportDir))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Workbooks      %s", dot, dim.Render("disabled")))
	}
	if cfg.ArchiveEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Archive        %s", check, dim.Render(shortenPath(cfg.DBPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Archive        %s", dot, dim.Render("disabled")))
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

	fmt.Println(strings.Join(lines, "\n"))
}

func printFetchSummary(cfg appConfig, s fetchSummary) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	exportLine := func(label, path string) string {
		if path == "" {
			return fmt.Sprintf("    %s  %s%s", dot, label, dim.Render("nothing to write"))
		}
		return fmt.Sprintf("    %s  %s%s", check, label, dim.Render(shortenPath(path)))
	}

	var lines []string
	lines = append(lines, bold.Render("    Results"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  System Log     %s", check,
		dim.Render(fmt.Sprintf("%d fetched, %d kept", s.systemTotal, s.systemKept))))
	lines = append(lines, fmt.Sprintf("    %s  File Station   %s", check,
		dim.Render(fmt.Sprintf("%d fetched, %d kept", s.fileTotal, s.fileKept))))
	lines = append(lines, "")

	if cfg.ExportEnabled {
		lines = append(lines, exportLine("System Export  ", s.systemPath))
		lines = append(lines, exportLine("File Export    ", s.filePath))
		lines = append(lines, exportLine("Ranking Export ", s.rankingPath))
	}
	if cfg.ArchiveEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Archive Run    %s", check, dim.Render(s.runID)))
	}
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}
