package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rpattn/driftetl/internal/config"
	"github.com/rpattn/driftetl/internal/domain"
	"github.com/rpattn/driftetl/internal/extract"
	"github.com/rpattn/driftetl/internal/logging"
	"github.com/rpattn/driftetl/internal/schema"
	"github.com/rpattn/driftetl/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "driftetl",
		Short:         "Extract records from messy documents and track schema drift",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", ".", "directory containing config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newParseCommand(opts), newInferCommand(opts), newServeCommand(opts))
	return root
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newParseCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>...",
		Short: "Extract records from documents and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			records, err := parseFiles(cmd.Context(), extract.NewParser(cfg.Parser.Extract(), logger), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
}

func newInferCommand(opts *rootOptions) *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "infer <file>...",
		Short: "Extract records and infer a versioned schema, one version per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			parser := extract.NewParser(cfg.Parser.Extract(), logger)
			store := schema.NewStore(logger)
			outcomes := make([]schema.Outcome, 0, len(args))
			for _, path := range args {
				records, err := parseFiles(cmd.Context(), parser, []string{path})
				if err != nil {
					return err
				}
				outcome, err := store.Infer(records, sourceID)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				outcomes = append(outcomes, outcome)
			}
			return printJSON(cmd.OutOrStdout(), outcomes)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "cli", "source id the versions are recorded under")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func parseFiles(ctx context.Context, parser *extract.Parser, paths []string) ([]domain.Record, error) {
	docs := make([]extract.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, extract.Document{Text: string(data), FileName: filepath.Base(path)})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	results, err := parser.ParseAll(ctx, docs)
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0)
	for _, result := range results {
		records = append(records, result.Records...)
	}
	return records, nil
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
