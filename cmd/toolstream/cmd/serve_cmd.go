package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"toolstream/internal/catalog"
	"toolstream/internal/config"
	"toolstream/internal/dispatch"
	"toolstream/internal/gateway"
	"toolstream/internal/logging"
	"toolstream/internal/mcpserver"
	"toolstream/internal/presence"
	"toolstream/internal/session"
	"toolstream/internal/transport"
)

// drainGrace is added to the backend timeout when waiting for in-flight
// executions at shutdown.
const drainGrace = 5 * time.Second

func NewServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the tool stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(GetConfigFileFlag(), cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logging.FromContext(ctx))
			if err != nil {
				return err
			}
			return a.run(ctx)
		},
	}
	c.Flags().String("listen", ":8090", "listen address")
	c.Flags().String("backend-url", "http://localhost:8000", "backend base URL")
	c.Flags().Duration("backend-timeout", 30*time.Second, "per-call backend timeout")
	c.Flags().String("redis-url", "", "redis URL for the session presence directory (optional)")
	return c
}

func serveFlagBindings(cmd *cobra.Command) map[string]*pflag.Flag {
	return map[string]*pflag.Flag{
		"server.listen":   cmd.Flags().Lookup("listen"),
		"backend.url":     cmd.Flags().Lookup("backend-url"),
		"backend.timeout": cmd.Flags().Lookup("backend-timeout"),
		"redis.url":       cmd.Flags().Lookup("redis-url"),
	}
}

type app struct {
	cfg        *config.Config
	logger     logging.Logger
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	directory  *presence.Directory
	server     *transport.Server
}

func newApp(cfg *config.Config, logger logging.Logger) (*app, error) {
	reg, err := catalog.NewRegistry(cfg.Tools)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(gateway.Options{
		BaseURL:    cfg.Backend.URL,
		PathPrefix: cfg.Backend.PathPrefix,
		Timeout:    cfg.Backend.Timeout,
		Logger:     logger.With("component", "gateway"),
	})

	dir, err := presence.Open(presence.Options{
		URL:       cfg.Redis.URL,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL,
		Logger:    logger.With("component", "presence"),
	})
	if err != nil {
		return nil, err
	}

	sessOpts := session.Options{
		IdleTimeout:   cfg.Session.IdleTimeout,
		Retention:     cfg.Session.Retention,
		SweepInterval: cfg.Session.SweepInterval,
		Logger:        logger.With("component", "session"),
	}
	if dir != nil {
		sessOpts.Listener = dir
		logger.Info("redis presence enabled", "instance_id", dir.InstanceID(), "ttl", cfg.Redis.TTL.String())
	}
	sessions := session.NewManager(sessOpts)

	d := dispatch.New(dispatch.Options{
		Registry:     reg,
		Gateway:      gw,
		Sessions:     sessions,
		Logger:       logger.With("component", "dispatch"),
		Retries:      cfg.Backend.Retries,
		RetryBackoff: cfg.Backend.RetryBackoff,
	})

	mcp := mcpserver.NewServer(reg.List(), d, mcpserver.Options{Version: Version, Logger: logger.With("component", "mcp")})

	server := transport.NewServer(transport.Options{
		Listen:       cfg.Server.Listen,
		StreamPath:   cfg.Server.StreamPath,
		WSPath:       cfg.Server.WSPath,
		MessagesPath: cfg.Server.MessagesPath,
		ToolsPath:    cfg.Server.ToolsPath,
		MCPPath:      cfg.Server.MCPPath,
		KeepAlive:    cfg.Server.KeepAlive,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Buffer:       cfg.Session.Buffer,
		Catalog:      reg,
		Dispatcher:   d,
		Sessions:     sessions,
		MCP:          mcpserver.Handler(mcp),
		Logger:       logger.With("component", "transport"),
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		sessions:   sessions,
		dispatcher: d,
		directory:  dir,
		server:     server,
	}, nil
}

// run serves until ctx is done, then lets in-flight executions finish before
// closing every session.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error { return a.sessions.Run(gctx) })
	g.Go(func() error { return a.directory.Run(gctx) })
	err := g.Wait()

	// http.Server.Shutdown does not track hijacked websocket connections;
	// sessions must refuse new work before the dispatcher is waited on
	a.sessions.DrainAll()
	waitCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Backend.Timeout+drainGrace)
	defer cancel()
	if werr := a.dispatcher.Shutdown(waitCtx); werr != nil {
		a.logger.Warn("in-flight executions abandoned at shutdown", "err", werr.Error())
	}
	a.sessions.CloseAll()
	if cerr := a.directory.Close(); cerr != nil {
		a.logger.Warn("close redis client failed", "err", cerr.Error())
	}
	a.logger.Info("toolstream stopped")
	return err
}
