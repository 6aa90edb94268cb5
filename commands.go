package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/serisow/docstore/config"
	"github.com/serisow/docstore/db"
	"github.com/serisow/docstore/handlers"
	"github.com/serisow/docstore/plugin_registry"
	"github.com/serisow/docstore/rag_type"
	"github.com/serisow/docstore/scheduler"
	"github.com/serisow/docstore/server"
	"github.com/serisow/docstore/services/rag_service"
)

// storeBackend is what both the Postgres and the SQLite store provide.
type storeBackend interface {
	rag_service.Store
	CreateAccount(ctx context.Context, ownerID int64) (*rag_type.Account, error)
	Dimensions(ctx context.Context) (int, error)
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    storeBackend
	pool     *pgxpool.Pool
	embedder *rag_service.GuardedEmbedder
	closeLog func() error
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "docstore",
		Short:        "Per-account document ingestion and semantic retrieval",
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newReindexCmd(cfg),
		newAccountCmd(cfg),
		newIngestCmd(cfg),
		newQueryCmd(cfg),
		newFilesCmd(cfg),
	)
	return root
}

// openApp connects the logger and the configured store, and the embedder when
// the command needs one.
func openApp(ctx context.Context, cfg config.Config, withEmbedder bool) (*app, error) {
	logger, closeLog, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if withEmbedder {
		if err := a.openEmbedder(ctx); err != nil {
			a.Close()
			return nil, err
		}
		if err := rag_service.CheckLegacyWordSupport(); err != nil {
			logger.Warn("Legacy Word (.doc) uploads will fail to extract",
				slog.String("error", err.Error()))
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.DatabaseDriver {
	case "postgres":
		pool, err := db.Connect(ctx, a.cfg.DatabaseURL, a.logger)
		if err != nil {
			return err
		}
		if err := db.Migrate(ctx, pool, a.cfg.EmbeddingDimensions); err != nil {
			pool.Close()
			return err
		}
		a.pool = pool
		a.store = db.NewPGStore(pool)
	case "sqlite":
		path := a.cfg.DatabaseURL
		if path == "" {
			path = "docstore.db"
		}
		store, err := db.OpenSQLite(ctx, path)
		if err != nil {
			return err
		}
		a.store = store
	default:
		return fmt.Errorf("unknown database driver: %s", a.cfg.DatabaseDriver)
	}
	a.logger.Info("Opened document store", slog.String("driver", a.cfg.DatabaseDriver))
	return nil
}

func (a *app) openEmbedder(ctx context.Context) error {
	registry := plugin_registry.NewPluginRegistry()
	registerEmbedders(registry, a.cfg, a.logger)

	embedder, err := registry.NewEmbedder(a.cfg.EmbeddingProvider, a.cfg.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(registry.EmbedderNames(), ", "))
	}

	stored, err := a.store.Dimensions(ctx)
	if err != nil {
		return err
	}
	if stored != 0 && stored != embedder.Dimensions() {
		return fmt.Errorf("embedder %s produces %d dimensions but the store holds %d", embedder.Name(), embedder.Dimensions(), stored)
	}

	a.embedder = rag_service.NewGuardedEmbedder(embedder, a.cfg.EmbeddingMaxConcurrency)
	a.logger.Info("Embedding model ready",
		slog.String("provider", a.cfg.EmbeddingProvider),
		slog.String("model", embedder.Name()),
		slog.Int("dimensions", embedder.Dimensions()))
	return nil
}

// Close releases the embedder first so no new work reaches the store.
func (a *app) Close() {
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close store", slog.String("error", err.Error()))
		}
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

func (a *app) newProcessor(opts rag_service.ProcessorOptions) *rag_service.Processor {
	return rag_service.NewProcessor(a.store, rag_service.NewDocumentExtractor(a.logger), a.embedder, a.logger, opts)
}

func newServeCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.pool != nil && cfg.IndexCheckInterval > 0 {
				indexManager := rag_service.NewIndexManager(a.pool, a.logger)
				go scheduler.New(cfg.IndexCheckInterval, indexManager, a.logger).Start(ctx)
			}

			library := rag_service.NewLibrary(a.store, a.logger)
			r := server.SetupRoutes(server.Deps{
				Ingester: a.newProcessor(rag_service.ProcessorOptions{}),
				Searcher: rag_service.NewRetriever(a.store, a.store, a.embedder, a.logger),
				Library:  library,
				Auth:     handlers.HeaderAuthenticator{},
				Ping:     a.store.Ping,
				Logger:   a.logger,
			})
			n := server.SetupNegroni(r, a.logger)

			srvCfg := server.Config{
				Domains:      cfg.Domains,
				CertCacheDir: cfg.CertCacheDir,
				HTTPPort:     cfg.HTTPPort,
			}
			if cfg.Environment == "production" {
				return server.ServeProduction(ctx, n, srvCfg, a.logger)
			}
			return server.ServeDevelopment(ctx, n, srvCfg, a.logger)
		},
	}
}

func newMigrateCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.pool != nil {
				if err := rag_service.NewIndexManager(a.pool, a.logger).CreateOrUpdateIndex(ctx); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newReindexCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index if its list count is stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.pool == nil {
				return errors.New("reindex requires the postgres driver")
			}
			return rag_service.NewIndexManager(a.pool, a.logger).ReindexIfNeeded(ctx)
		},
	}
}

func newAccountCmd(cfg config.Config) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	var ownerID int64
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			account, err := a.store.CreateAccount(ctx, ownerID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created account %d for user %d\n", account.ID, account.OwnerID)
			return nil
		},
	}
	createCmd.Flags().Int64Var(&ownerID, "owner", 0, "id of the owning user")
	createCmd.MarkFlagRequired("owner")

	accountCmd.AddCommand(createCmd)
	return accountCmd
}

// extensionTypes stands in for the client-declared type when files come from disk.
var extensionTypes = map[string]string{
	".pdf":  rag_type.MimePDF,
	".docx": rag_type.MimeDOCX,
	".doc":  rag_type.MimeDOC,
	".txt":  rag_type.MimeTXT,
}

func newIngestCmd(cfg config.Config) *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Index local files into an account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			files := make([]rag_service.UploadFile, 0, len(args))
			var total int64
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				info, err := f.Stat()
				if err != nil {
					return err
				}
				total += info.Size()
				files = append(files, rag_service.UploadFile{
					Name:        filepath.Base(path),
					ContentType: extensionTypes[strings.ToLower(filepath.Ext(path))],
					Size:        info.Size(),
					Content:     f,
				})
			}

			bar := progressbar.NewOptions(len(files),
				progressbar.OptionSetDescription(fmt.Sprintf("Indexing %s", humanize.Bytes(uint64(total)))),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			processor := a.newProcessor(rag_service.ProcessorOptions{
				OnFileDone: func(rag_type.FileResult) { bar.Add(1) },
			})

			result, err := processor.Ingest(ctx, accountID, files)
			bar.Finish()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Message)
			for _, fr := range result.Files {
				if fr.Status == rag_type.StatusFailed {
					fmt.Fprintf(out, "  %-40s failed: %s\n", fr.FileName, fr.Error)
					continue
				}
				fmt.Fprintf(out, "  %-40s id=%d passages=%d words=%d\n", fr.FileName, fr.DocumentID, fr.Passages, fr.WordCount)
			}
			if result.Failed() {
				return errors.New("some files failed to process")
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "target account id")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newQueryCmd(cfg config.Config) *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "query TEXT",
		Short: "Find the account's documents most similar to TEXT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			retriever := rag_service.NewRetriever(a.store, a.store, a.embedder, a.logger)
			result, err := retriever.Query(ctx, accountID, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Found {
				fmt.Fprintln(out, "No files found")
				return nil
			}
			for _, doc := range result.Documents {
				fmt.Fprintf(out, "%s (id=%d, %s)\n", doc.FileName, doc.ID, humanize.Bytes(uint64(doc.FileSize)))
				for _, snippet := range result.Snippets[doc.ID] {
					fmt.Fprintf(out, "    %s\n", preview(snippet, 160))
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account to search")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newFilesCmd(cfg config.Config) *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the documents of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			library := rag_service.NewLibrary(a.store, a.logger)
			account, err := library.Account(ctx, accountID)
			if err != nil {
				return err
			}
			docs, err := library.List(ctx, accountID)
			if errors.Is(err, rag_type.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No files found")
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, doc := range docs {
				fmt.Fprintf(out, "%6d  %-40s %-5s %10s  %s\n",
					doc.ID, doc.FileName, doc.ContentType,
					humanize.Bytes(uint64(doc.FileSize)),
					humanize.Time(doc.UploadedAt))
			}
			fmt.Fprintf(out, "%d files, %s used\n", len(docs), humanize.Bytes(uint64(account.StorageUsed)))
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account to list")
	cmd.MarkFlagRequired("account")
	return cmd
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
