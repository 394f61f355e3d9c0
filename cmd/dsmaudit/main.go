package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dsmaudit/dsmaudit/internal/audit"
	"github.com/dsmaudit/dsmaudit/internal/control"
	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/dsmaudit/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("dsmaudit - NAS Audit Log Collector\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "", "fetch":
		err = runFetch(cfg)
	case "serve":
		err = runServe(cfg)
	case "status":
		err = runStatus(cfg)
	case "collect":
		err = runCollect(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q (expected fetch, serve, status, or collect)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "dsmaudit")
	defaultDBPath := filepath.Join(dataDir, "audit.duckdb")
	defaultSpoolPath := filepath.Join(dataDir, "spool.jsonl")
	defaultBackupDir := filepath.Join(dataDir, "backups")

	v := viper.New()
	v.SetEnvPrefix("DSMAUDIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("nas-host", "")
	v.SetDefault("nas-port", defaultNASPort)
	v.SetDefault("account", "")
	v.SetDefault("password", "")
	v.SetDefault("otp-code", "")
	v.SetDefault("page-size", defaultPageSize)
	v.SetDefault("since", "")
	v.SetDefault("until", "")
	v.SetDefault("severity", "")
	v.SetDefault("operation", "")
	v.SetDefault("export-dir", "")
	v.SetDefault("export-enabled", true)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("archive-enabled", true)
	v.SetDefault("log-retention", defaultLogRetention)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("retry-attempts", defaultRetryAttempts)
	v.SetDefault("retry-wait", defaultRetryWait)
	v.SetDefault("request-timeout", defaultRequestTimeout)
	v.SetDefault("fetch-interval", defaultFetchInterval)
	v.SetDefault("spool-path", defaultSpoolPath)
	v.SetDefault("control-socket", control.DefaultSocketPath())
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", defaultBackupDir)
	v.SetDefault("backup-keep-last", defaultBackupKeep)
	v.SetDefault("backup-bucket-url", "")
	v.SetDefault("backup-s3-endpoint", "")
	v.SetDefault("backup-s3-region", "")
	v.SetDefault("backup-s3-access-key", "")
	v.SetDefault("backup-s3-secret-key", "")
	v.SetDefault("backup-s3-session-token", "")
	v.SetDefault("backup-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "dsmaudit", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if cfg.NASPort <= 0 || cfg.NASPort > 65535 {
		return cfg, fmt.Errorf("invalid nas-port: %d", cfg.NASPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.PageSize <= 0 {
		return cfg, fmt.Errorf("invalid page-size: %d", cfg.PageSize)
	}
	if cfg.BackupEnabled {
		if cfg.BackupInterval <= 0 {
			return cfg, fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
		}
		if cfg.BackupKeepLast < 0 {
			return cfg, fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
		}
		if cfg.BackupBucketURL != "" && (cfg.BackupS3AccessKey == "" || cfg.BackupS3SecretKey == "") {
			return cfg, fmt.Errorf("backup-s3-access-key and backup-s3-secret-key are required when backup-bucket-url is set")
		}
	}

	// Expand ~ in paths
	if strings.HasPrefix(cfg.DBPath, "~/") {
		cfg.DBPath = filepath.Join(home, cfg.DBPath[2:])
	}
	if strings.HasPrefix(cfg.ExportDir, "~/") {
		cfg.ExportDir = filepath.Join(home, cfg.ExportDir[2:])
	}
	if strings.HasPrefix(cfg.SpoolPath, "~/") {
		cfg.SpoolPath = filepath.Join(home, cfg.SpoolPath[2:])
	}
	if strings.HasPrefix(cfg.BackupLocalDir, "~/") {
		cfg.BackupLocalDir = filepath.Join(home, cfg.BackupLocalDir[2:])
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = audit.DefaultExportDir()
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func renderLogo(style lipgloss.Style) string {
	return style.Bold(true).Render(`
    ╔╦╗╔═╗╔╦╗  ╔═╗╦ ╦╔╦╗╦╔╦╗
     ║║╚═╗║║║  ╠═╣║ ║ ║║║ ║
    ═╩╝╚═╝╩ ╩  ╩ ╩╚═╝═╩╝╩ ╩`)
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
