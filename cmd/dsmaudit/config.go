package main

import (
	"time"

	"github.com/dsmaudit/dsmaudit/internal/syno"
)

const (
	defaultNASPort        = 5000
	defaultPageSize       = syno.DefaultPageSize
	defaultBindHost       = "127.0.0.1"
	defaultAPIPort        = 9080
	defaultQueryTimeout   = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryWait      = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultLogRetention   = 0 // days, 0 = keep all
	defaultFetchInterval  = time.Duration(0)
	defaultBackupInterval = 6 * time.Hour
	defaultBackupKeep     = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	NASHost        string        `mapstructure:"nas-host"`
	NASPort        int           `mapstructure:"nas-port"`
	Account        string        `mapstructure:"account"`
	Password       string        `mapstructure:"password"`
	OTPCode        string        `mapstructure:"otp-code"`
	PageSize       int           `mapstructure:"page-size"`
	Since          string        `mapstructure:"since"`
	Until          string        `mapstructure:"until"`
	Severity       string        `mapstructure:"severity"`
	Operation      string        `mapstructure:"operation"`
	ExportDir      string        `mapstructure:"export-dir"`
	ExportEnabled  bool          `mapstructure:"export-enabled"`
	DBPath         string        `mapstructure:"db-path"`
	ArchiveEnabled bool          `mapstructure:"archive-enabled"`
	LogRetention   int           `mapstructure:"log-retention"`
	APIPort        int           `mapstructure:"api-port"`
	APIAddr        string        `mapstructure:"api-addr"`
	QueryTimeout   time.Duration `mapstructure:"query-timeout"`
	RetryAttempts  int           `mapstructure:"retry-attempts"`
	RetryWait      time.Duration `mapstructure:"retry-wait"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	FetchInterval  time.Duration `mapstructure:"fetch-interval"`
	SpoolPath      string        `mapstructure:"spool-path"`
	ControlSocket  string        `mapstructure:"control-socket"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
