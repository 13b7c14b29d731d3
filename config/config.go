package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mailfetch/attachment"
	"github.com/dhcgn/mailfetch/filter"
)

// EnvPrefix is prepended to every flag name, upper-cased with dashes
// replaced by underscores, to form its environment variable.
const EnvPrefix = "MAILFETCH"

// Config captures all options required to run one fetch.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	Sender             string
	DownloadDir        string
	MatchPolicy        attachment.Policy
	DefaultExtension   string
	ExpandArchives     bool
	IncludeAttachment  []string
	ExcludeAttachment  []string
	MboxPath           string
	DryRun             bool
	Progress           bool
	LogLevel           string
	LogDir             string
}

// Offline reports whether messages come from an mbox file instead of IMAP.
func (c Config) Offline() bool {
	return c.MboxPath != ""
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("config", "", "Config file (yaml, toml or json) with the same keys as the flags")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "Mailbox folder to search")
	flags.String("sender", "", "Only messages whose From header contains this address are processed")
	flags.String("download-dir", "attachments", "Directory attachments are written to")
	flags.String("match-policy", string(attachment.PolicyGeneral), "Attachment match policy: general or strict-application")
	flags.String("default-extension", "", "Extension appended to attachment names without an office extension, e.g. .xlsx")
	flags.Bool("expand-archives", true, "Expand zip attachments and delete the archive afterwards")
	flags.StringArray("include-attachment", nil, "Regex allow-list applied to attachment names (mutually exclusive with exclude)")
	flags.StringArray("exclude-attachment", nil, "Regex block-list applied to attachment names (mutually exclusive with include)")
	flags.String("mbox", "", "Read messages from this mbox file instead of an IMAP server")
	flags.Bool("dry-run", false, "Walk messages and report attachments without writing them")
	flags.Bool("progress", false, "Show a progress bar instead of one log line per event")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	return nil
}

// LoadConfig merges flags, MAILFETCH_* environment variables and the optional
// config file, in that order of precedence, and validates the result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	policy, err := attachment.ParsePolicy(v.GetString("match-policy"))
	if err != nil {
		return Config{}, err
	}

	imapPass := v.GetString("imap-pass")
	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           imapPass,
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Folder:             v.GetString("folder"),
		Sender:             strings.TrimSpace(v.GetString("sender")),
		DownloadDir:        v.GetString("download-dir"),
		MatchPolicy:        policy,
		DefaultExtension:   strings.TrimSpace(v.GetString("default-extension")),
		ExpandArchives:     v.GetBool("expand-archives"),
		IncludeAttachment:  v.GetStringSlice("include-attachment"),
		ExcludeAttachment:  v.GetStringSlice("exclude-attachment"),
		MboxPath:           strings.TrimSpace(v.GetString("mbox")),
		DryRun:             v.GetBool("dry-run"),
		Progress:           v.GetBool("progress"),
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
	}
	if cfg.DownloadDir != "" {
		cfg.DownloadDir = filepath.Clean(cfg.DownloadDir)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.Sender == "" {
		return fmt.Errorf("--sender is required")
	}
	if cfg.DownloadDir == "" {
		return fmt.Errorf("--download-dir must not be empty")
	}
	if cfg.Folder == "" {
		return fmt.Errorf("--folder must not be empty")
	}

	if !cfg.Offline() {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required unless --mbox is set")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	if _, err := filter.New(filter.Options{Include: cfg.IncludeAttachment, Exclude: cfg.ExcludeAttachment}); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
