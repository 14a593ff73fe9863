package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/app"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/pkg/converters"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/queue"
)

type rootOptions struct {
	envFile    string
	configPath string
}

// open loads the configuration and wires the components a command needs.
// Logs go to stderr so command output stays machine readable.
func (o *rootOptions) open(ctx context.Context, needs app.Needs) (*app.App, error) {
	cfg, err := config.Load(o.envFile, o.configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.App.LogLevel),
		logger.WithEncoding("console"),
		logger.WithOutputPaths([]string{"stderr"}),
		logger.WithService("waybillctl"),
	)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, needs)
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile, opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate("database"); err != nil {
				return err
			}
			db, err := repository.Connect(cmd.Context(), cfg.Database.URL, repository.OptionsFromConfig(cfg.Database), logger.NewNop())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

type extractOutput struct {
	File      string            `yaml:"file"`
	Escalated bool              `yaml:"escalated"`
	Fields    *models.OcrFields `yaml:"fields"`
}

func extractCmd(opts *rootOptions) *cobra.Command {
	var dumpDir string
	cmd := &cobra.Command{
		Use:   "extract <image>...",
		Short: "Run the two-pass extraction on local photos and print the fields as YAML",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context(), app.Needs{Vision: true})
			if err != nil {
				return err
			}
			defer a.Close()

			results := make([]extractOutput, 0, len(args))
			for _, path := range args {
				res, err := a.Engine.ExtractFile(cmd.Context(), path, dumpDir)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results = append(results, extractOutput{File: path, Escalated: res.Escalated, Fields: res.Fields})
			}
			return writeYAML(cmd.OutOrStdout(), results...)
		},
	}
	cmd.Flags().StringVar(&dumpDir, "dump", "", "directory to write the preprocessed variants to")
	return cmd
}

func renderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "render <id>",
		Short: "Print the operator message for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), app.Needs{Database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.Service.Render(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func enqueueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <chat_id> <file_id>",
		Short: "Push a photo task onto the queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q", args[0])
			}
			if strings.TrimSpace(args[1]) == "" {
				return fmt.Errorf("file id is empty")
			}
			a, err := opts.open(cmd.Context(), app.Needs{Redis: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Queue.Enqueue(cmd.Context(), queue.NewPhotoTask(chatID, args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s for chat %d\n", args[1], chatID)
			return nil
		},
	}
}

type exportFlags struct {
	statuses []string
	from     string
	to       string
	limit    int
}

func (f exportFlags) filter() (repository.ListFilter, error) {
	out := repository.ListFilter{Limit: f.limit}
	for _, s := range f.statuses {
		status := models.Status(strings.TrimSpace(s))
		if !status.Valid() {
			return out, fmt.Errorf("unknown status %q", s)
		}
		out.Statuses = append(out.Statuses, status)
	}
	var err error
	if f.from != "" {
		if out.From, err = time.Parse(time.DateOnly, f.from); err != nil {
			return out, fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
		}
	}
	if f.to != "" {
		if out.To, err = time.Parse(time.DateOnly, f.to); err != nil {
			return out, fmt.Errorf("--to must be YYYY-MM-DD: %w", err)
		}
		out.To = out.To.Add(24*time.Hour - time.Nanosecond)
	}
	return out, nil
}

func exportCmd(opts *rootOptions) *cobra.Command {
	var flags exportFlags
	cmd := &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Export documents to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			a, err := opts.open(cmd.Context(), app.Needs{Database: true})
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.Service.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			data, err := converters.NewXLSXConverter(a.Directory, a.Logger).Convert(cmd.Context(), docs)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d documents to %s\n", len(docs), args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&flags.statuses, "status", nil, "statuses to include")
	cmd.Flags().StringVar(&flags.from, "from", "", "first creation day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "last creation day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "maximum number of documents")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", raw)
	}
	return id, nil
}

// writeYAML writes one YAML document per value.
func writeYAML[T any](w io.Writer, values ...T) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return enc.Close()
}
