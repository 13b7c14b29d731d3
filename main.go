package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailfetch/cmd"
	"github.com/dhcgn/mailfetch/config"
	"github.com/dhcgn/mailfetch/filter"
	"github.com/dhcgn/mailfetch/imap"
	"github.com/dhcgn/mailfetch/mbox"
	"github.com/dhcgn/mailfetch/model"
	"github.com/dhcgn/mailfetch/progress"
	"github.com/dhcgn/mailfetch/runner"
	"github.com/dhcgn/mailfetch/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mailfetch",
		Short:        "Download attachments from one sender's messages in an IMAP mailbox",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mailfetch", "sender", cfg.Sender, "folder", cfg.Folder, "downloadDir", cfg.DownloadDir, "dryRun", cfg.DryRun)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	cmd.Register(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	f, err := filter.New(filter.Options{Include: cfg.IncludeAttachment, Exclude: cfg.ExcludeAttachment})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	opts := runner.Options{
		Folder:           cfg.Folder,
		Sender:           cfg.Sender,
		DownloadDir:      cfg.DownloadDir,
		Policy:           cfg.MatchPolicy,
		DefaultExtension: cfg.DefaultExtension,
		Expand:           cfg.ExpandArchives,
		DryRun:           cfg.DryRun,
		Filter:           f,
	}

	if f.Active() {
		logger.Info("attachment name filter active", "include", cfg.IncludeAttachment, "exclude", cfg.ExcludeAttachment)
	}

	r, err := runner.New(opts, opener(cfg, logger), logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	if cfg.Progress {
		progress.NewReporter(r, progress.New(os.Stdout))
		stats.NewReporter(r, logger, false)
	} else {
		stats.NewReporter(r, logger, true)
	}

	return r.Start(ctx)
}

func opener(cfg config.Config, logger *slog.Logger) runner.OpenFunc {
	if cfg.Offline() {
		return func(context.Context) (model.Mailbox, error) {
			m, err := mbox.Open(cfg.MboxPath, logger)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}

	sessionOpts := imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	return func(ctx context.Context) (model.Mailbox, error) {
		s, err := imap.Open(ctx, sessionOpts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mailfetch-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
