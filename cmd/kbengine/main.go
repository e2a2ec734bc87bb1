package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/job"
	"github.com/xxxsen/kbengine/internal/model"
	"github.com/xxxsen/kbengine/internal/schedule"
)

// staleResyncSpec and staleResyncAfter drive the supplemented maintenance
// sweep (internal/job.StaleResyncJob): documents nobody has re-ingested in
// staleResyncAfter are periodically resynced, so edits made outside the
// watched ingest flow still eventually land.
const (
	staleResyncSpec  = "*/15 * * * *"
	staleResyncAfter = 24 * time.Hour
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kbengine",
		Short: "enterprise knowledge base ingestion and retrieval engine",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newIngestCmd(&configPath),
		newSearchCmd(&configPath),
		newStatusCmd(&configPath),
		newDeleteCmd(&configPath),
		newCancelCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadApp(configPath string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	return wire(cfg)
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the ingestion workers and maintenance scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}
}

func runServer(a *app) error {
	logutil.GetLogger(context.Background()).Info(
		"starting kbengine",
		zap.String("db_path", a.cfg.DBPath),
		zap.String("vector_store", a.cfg.VectorStore.Type),
		zap.String("file_store", a.cfg.FileStore.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	resyncJob := job.NewStaleResyncJob(a.state, a.engine.Resync, staleResyncAfter, 50)
	if err := scheduler.AddJob(resyncJob, staleResyncSpec); err != nil {
		return fmt.Errorf("schedule stale resync job: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(ctx).Info("kbengine workers running")
	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("kbengine stopping...")
	return nil
}

func newIngestCmd(configPath *string) *cobra.Command {
	var docID, path string
	var metaPairs []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "submit a document for ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			metadata, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}

			ctx := context.Background()
			taskID, err := a.engine.Ingest(ctx, docID, path, metadata)
			if err != nil {
				return err
			}
			if !wait {
				fmt.Println(taskID)
				return nil
			}
			return awaitTask(ctx, a, taskID)
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "document id (required)")
	cmd.Flags().StringVar(&path, "path", "", "source path the configured file store resolves (required)")
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "metadata key=value, repeatable")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the task reaches a terminal state")
	_ = cmd.MarkFlagRequired("doc-id")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --meta %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// awaitTask polls the broker until taskID reaches a terminal state. A CLI
// one-shot command has no long-running worker loop of its own to rejoin, so
// this polls one task on its own ticker, the same way broker.Group's
// internal wait polls a whole batch.
func awaitTask(ctx context.Context, a *app, taskID string) error {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rec, err := a.broker.Get(ctx, taskID)
			if err != nil {
				return err
			}
			switch rec.State {
			case model.TaskStateSucceeded:
				fmt.Println("succeeded")
				return nil
			case model.TaskStateFailed, model.TaskStateCanceled:
				return fmt.Errorf("task %s: %s", rec.State, rec.Error)
			}
		}
	}
}

func newSearchCmd(configPath *string) *cobra.Command {
	var text string
	var topK int
	var vectorOnly, lexicalOnly, rerank, rewrite bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "run a hybrid retrieval query",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.engine.Search(context.Background(), model.SearchQuery{
				Text:         text,
				TopK:         topK,
				VectorOnly:   vectorOnly,
				LexicalOnly:  lexicalOnly,
				Rerank:       rerank,
				QueryRewrite: rewrite,
			})
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVar(&text, "query", "", "query text (required)")
	cmd.Flags().IntVar(&topK, "top-k", 10, "number of results")
	cmd.Flags().BoolVar(&vectorOnly, "vector-only", false, "skip the lexical leg")
	cmd.Flags().BoolVar(&lexicalOnly, "lexical-only", false, "skip the vector leg")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "LLM-rerank the fused top results")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "expand the query into paraphrases before the vector leg")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	var docID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "show a document's ingestion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			doc, err := a.engine.Status(context.Background(), docID)
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "document id (required)")
	_ = cmd.MarkFlagRequired("doc-id")
	return cmd
}

func newDeleteCmd(configPath *string) *cobra.Command {
	var docID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "remove a document and its chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.engine.Delete(context.Background(), docID)
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "document id (required)")
	_ = cmd.MarkFlagRequired("doc-id")
	return cmd
}

func newCancelCmd(configPath *string) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "cancel a queued or running task",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.engine.Cancel(context.Background(), taskID)
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id (required)")
	_ = cmd.MarkFlagRequired("task-id")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
