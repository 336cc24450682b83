package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/polyservers/meshhub/internal/admin"
	"github.com/polyservers/meshhub/internal/bus"
	"github.com/polyservers/meshhub/internal/config"
	"github.com/polyservers/meshhub/internal/engine"
	"github.com/polyservers/meshhub/internal/service"
	"github.com/polyservers/meshhub/internal/store"
)

func main() {
	cmd := &cli.Command{
		Name:  "meshhub",
		Usage: "Coordinates a fleet of game-server nodes into one logical network.",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the node-side coordination service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Value: "", Usage: "Path to the YAML config file"},
				},
				Action: runNode,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNode(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.Open(cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		natsURL, err = startEmbeddedNATS(cfg.NATS.Listen, log)
		if err != nil {
			return err
		}
	}
	b, err := bus.Connect(natsURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to event bus: %w", err)
	}
	defer b.Close()

	host := engine.NewClient(cfg.Engine.Socket)

	svc, err := service.Init(cfg, st, b, host, log)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	adminSrv := &http.Server{
		Addr:    cfg.Admin.Listen,
		Handler: admin.NewServer(svc, b, cfg.Node.ID, log).Router(),
	}
	go func() {
		log.Info("admin API listening", zap.String("addr", cfg.Admin.Listen))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server failed", zap.Error(err))
		}
	}()

	runErr := svc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	adminSrv.Shutdown(shutdownCtx)
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return runErr
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// startEmbeddedNATS runs a NATS server inside this process so a hub node
// can carry the event bus without a separate deployment.
func startEmbeddedNATS(listen string, log *zap.Logger) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid nats.listen format: %w", err)
	}
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("invalid nats.listen port: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{Host: host, Port: portInt})
	if err != nil {
		return "", fmt.Errorf("could not start embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		return "", fmt.Errorf("embedded NATS server did not become ready")
	}
	log.Info("embedded NATS server started", zap.String("addr", listen))
	return ns.ClientURL(), nil
}
