// Package main provides the anchorstore server entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/anchorstore/internal/config"
	"github.com/nainya/anchorstore/internal/logger"
	"github.com/nainya/anchorstore/internal/metrics"
	"github.com/nainya/anchorstore/internal/server"
	"github.com/nainya/anchorstore/pkg/journal"
	"github.com/nainya/anchorstore/pkg/metastore"
	"github.com/nainya/anchorstore/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "anchorstore",
		Short: "anchorstore - anchored metadata graph store",
		Long: `anchorstore keeps typed metadata elements, their classifications and
the relationships between them. Elements anchored to an owner are deleted
with it, and templates are cloned as complete anchored sub-graphs.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search anchorstore.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("anchorstore v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC server",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 0, "gRPC port")
	serveCmd.Flags().Int("metrics-port", 0, "Metrics and health HTTP port (0 disables)")
	serveCmd.Flags().String("engine", "", "Storage engine: badger, sqlite, memory")
	serveCmd.Flags().String("data", "", "Storage path")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("pretty", false, "Human readable console logs")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Println(cfg.String())
			return nil
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves file, env and flag settings in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.GRPCPort, _ = flags.GetInt("port")
	}
	if flags.Changed("metrics-port") {
		cfg.Server.MetricsPort, _ = flags.GetInt("metrics-port")
	}
	if flags.Changed("engine") {
		cfg.Storage.Engine, _ = flags.GetString("engine")
	}
	if flags.Changed("data") {
		cfg.Storage.Path, _ = flags.GetString("data")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("pretty") {
		cfg.Logging.Pretty, _ = flags.GetBool("pretty")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.InitGlobalLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Pretty:     cfg.Logging.Pretty,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Server.GRPCPort, cfg.Storage.Engine, cfg.Storage.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	types, err := cfg.LoadTypes()
	if err != nil {
		return err
	}

	kv, err := storage.Open(cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	var intents journal.Intents = journal.Discard{}
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, journal.Options{
			MaxFileSize: cfg.Journal.MaxFileSize,
			SyncWrites:  cfg.Storage.SyncWrites,
		})
		if err != nil {
			closeBackends(kv, intents)
			return fmt.Errorf("failed to open journal: %w", err)
		}
		intents = j
	}

	m := metrics.NewMetrics(nil)
	go m.RunUptime(ctx, 15*time.Second)

	store, err := openStore(kv, intents, metastore.Dependencies{
		Types:       types,
		Recorder:    m,
		Logger:      log,
		MaxPageSize: cfg.Query.MaxPageSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	resumed, err := store.Resume(ctx)
	if err != nil {
		log.Error("Failed to resume interrupted deletes").Err(err).Send()
	}
	for _, res := range resumed {
		log.Info("Resumed interrupted delete").
			Str("root", res.RootGUID).
			Int("elements", res.ElementsDeleted).
			Int("relationships", res.RelationshipsDeleted).
			Send()
	}
	if j, ok := intents.(*journal.Journal); ok && err == nil {
		if err := j.Checkpoint(); err != nil {
			log.Warn("Journal checkpoint failed").Err(err).Send()
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.ChainUnaryInterceptor(
			server.IdentityInterceptor(),
			server.GrpcMetricsInterceptor(m, log),
		),
	)
	server.RegisterMetadataStoreServer(grpcServer, server.NewServer(store, version))
	reflection.Register(grpcServer)

	var obs *server.ObservabilityServer
	if cfg.Server.MetricsPort > 0 {
		obs = server.NewObservabilityServer(cfg.Server.MetricsPort, nil, log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("Observability server stopped").Err(err).Send()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.LogServerShutdown()
		grpcServer.GracefulStop()
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	}()

	log.LogServerReady(cfg.Server.GRPCPort)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// openStore hands kv and intents to a new store. They are closed if the
// store cannot be created, otherwise the store owns them.
func openStore(kv storage.KV, intents journal.Intents, deps metastore.Dependencies) (*metastore.Store, error) {
	deps.KV = kv
	deps.Journal = intents
	store, err := metastore.New(deps)
	if err != nil {
		closeBackends(kv, intents)
		return nil, err
	}
	return store, nil
}

// closeBackends releases storage opened before the store took ownership.
func closeBackends(kv io.Closer, intents journal.Intents) {
	if c, ok := intents.(io.Closer); ok {
		c.Close()
	}
	kv.Close()
}
