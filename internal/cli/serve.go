package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dynabo/dynabo/internal/config"
	"github.com/dynabo/dynabo/internal/dyntable"
	"github.com/dynabo/dynabo/internal/query"
	"github.com/dynabo/dynabo/internal/record"
	"github.com/dynabo/dynabo/internal/schema"
	"github.com/dynabo/dynabo/internal/server"
	"github.com/dynabo/dynabo/internal/store"
	"github.com/dynabo/dynabo/internal/workflow"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the platform HTTP API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "optional YAML config file")

	return cmd
}

func runServe(cfgPath string) error {
	cfg := config.NewDefaultConfig()
	if cfgPath != "" {
		if err := cfg.LoadFile(cfgPath); err != nil {
			return WrapExitError(ExitCommandError, "load config", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	setupLogging(cfg)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer func() { _ = st.Close() }()

	tables := dyntable.New(st.DB(), cfg.TablePrefix, slog.Default())
	schemas := schema.New(st, tables, slog.Default())
	queries := query.New(st.DB(), cfg.TablePrefix, cfg.MaxPageSize)
	records := record.New(st.DB(), cfg.TablePrefix, queries)
	workflows := workflow.New(st.DB(), cfg.TablePrefix, workflow.NewGuardEnv())

	api := server.NewServer(schemas, queries, records, workflows, cfg.QueryTimeout)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: api.SetupRoutes(),
	}

	go func() {
		slog.Info("HTTP server starting", slog.String("addr", httpServer.Addr))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	<-quit

	slog.Info("Shutting down")
	ctx, cancel := context.WithTimeout(
		context.Background(), cfg.ShutdownTimeout,
	)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", slog.Any("error", err))
	}
	slog.Info("Server exited")
	return nil
}

func setupLogging(cfg *config.Config) {
	level, ok := logLevels[cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("dynabo starting",
		slog.String("log_level", cfg.LogLevel),
		slog.String("database", cfg.DatabasePath),
		slog.String("table_prefix", cfg.TablePrefix),
		slog.String("api_host", cfg.APIHost),
		slog.Int("api_port", cfg.APIPort))
}
