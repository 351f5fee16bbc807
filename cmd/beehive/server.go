package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/bus"
	"github.com/rsclarke/beehive/internal/client"
	"github.com/rsclarke/beehive/internal/config"
	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/engine"
	"github.com/rsclarke/beehive/internal/feed"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/server"
)

var serverFlags struct {
	configPath    string
	dbPath        string
	natsURL       string
	serverHost    string
	metricsPort   int
	dnsPort       int
	dnsDomain     string
	delaySeconds  int
	maxSessions   int
	clearSessions bool
	kafkaBrokers  []string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the correlation engine",
	Long: `Run the correlation engine.

The engine subscribes to the raw sessions subject for drone messages and
answers operator commands on the commands subject. Classified sessions are
published to the processed sessions subject and, when brokers are configured,
to a Kafka topic.

Configuration is read from the optional --config YAML file, then BEEHIVE_*
environment variables, then flags.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.StringVarP(&serverFlags.configPath, "config", "c", os.Getenv("BEEHIVE_CONFIG"), "path to YAML config file")
	f.StringVar(&serverFlags.dbPath, "db", "", "database path")
	f.StringVar(&serverFlags.natsURL, "nats-url", "", "NATS server URL")
	f.StringVar(&serverFlags.serverHost, "server-host", "", "engine host advertised to drones")
	f.IntVar(&serverFlags.metricsPort, "metrics-port", 0, "metrics and health port (0 disables)")
	f.IntVar(&serverFlags.dnsPort, "dns-port", 0, "drone directory DNS port (enables the directory)")
	f.StringVar(&serverFlags.dnsDomain, "dns-domain", "", "drone directory DNS domain")
	f.IntVar(&serverFlags.delaySeconds, "delay", 0, "seconds before a session is classified")
	f.IntVar(&serverFlags.maxSessions, "max-sessions", 0, "session store cap (-1 unlimited, 0 disables ingestion)")
	f.BoolVar(&serverFlags.clearSessions, "clear-sessions", false, "delete all stored sessions on startup")
	f.StringSliceVar(&serverFlags.kafkaBrokers, "kafka-brokers", nil, "Kafka brokers for the processed session feed")
}

// applyServerFlags overlays flags the user actually set onto cfg.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("db") {
		cfg.DBPath = serverFlags.dbPath
	}
	if f.Changed("nats-url") {
		cfg.NATS.URL = serverFlags.natsURL
	}
	if f.Changed("server-host") {
		cfg.ServerHost = serverFlags.serverHost
	}
	if f.Changed("metrics-port") {
		cfg.Metrics.Port = serverFlags.metricsPort
		cfg.Metrics.Enabled = serverFlags.metricsPort != 0
	}
	if f.Changed("dns-port") {
		cfg.DNS.Port = serverFlags.dnsPort
		cfg.DNS.Enabled = true
	}
	if f.Changed("dns-domain") {
		cfg.DNS.Domain = serverFlags.dnsDomain
	}
	if f.Changed("delay") {
		cfg.Sessions.DelaySeconds = serverFlags.delaySeconds
	}
	if f.Changed("max-sessions") {
		cfg.Sessions.MaxSessions = serverFlags.maxSessions
	}
	if f.Changed("clear-sessions") {
		cfg.Sessions.ClearSessions = serverFlags.clearSessions
	}
	if f.Changed("kafka-brokers") {
		cfg.Kafka.Brokers = serverFlags.kafkaBrokers
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serverFlags.configPath)
	if err != nil {
		return err
	}
	applyServerFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	b, err := bus.Connect(cfg.NATS.URL, bus.Subjects{
		RawSessions:  cfg.NATS.RawSessionsSubject,
		Commands:     cfg.NATS.CommandsSubject,
		DronesPrefix: cfg.NATS.DroneCommandsPrefix,
	}, logger.Named("bus"))
	if err != nil {
		return err
	}
	defer b.Close()

	pipeline := feed.NewPipeline(logger.Named("feed"))
	pipeline.Register(feed.NewNATSSink(b, cfg.NATS.ProcessedSessionsSubject))
	if len(cfg.Kafka.Brokers) > 0 {
		pipeline.Register(feed.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka")))
	}
	defer pipeline.Close()
	for _, s := range pipeline.ListSinks() {
		logger.Info("feed sink registered", zap.String("sink", s.ID))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(database, engine.OptionsFromConfig(cfg), engine.Deps{
		Feed:       pipeline,
		Drones:     b,
		Registerer: reg,
		Logger:     logger.Named("engine"),
	})
	if err != nil {
		return err
	}
	if err := eng.Prepare(); err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}

	var status *server.ManagedServer
	var statusErr <-chan error
	if cfg.Metrics.Enabled {
		st := &server.StatusServer{
			Gatherer: reg,
			Health:   database.PingContext,
			Logger:   logger.Named("status"),
		}
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		status = server.NewManagedServer("status", server.DefaultServerConfig(addr, st.Handler(), logger.Named("status")))
		if err := status.Start(); err != nil {
			return err
		}
		statusErr = status.Err()
	}

	var dnsSrv *server.DNSServer
	if cfg.DNS.Enabled {
		dc, err := client.Dial(cfg.NATS.URL, cfg.NATS.CommandsSubject, cfg.NATS.RequestTimeout)
		if err != nil {
			return err
		}
		defer dc.Close()

		dnsSrv = server.NewDNSServer(dc, cfg.DNS.Domain, 30*time.Second, logger.Named("dns"))
		if err := dnsSrv.Start(cfg.DNS.Port); err != nil {
			return fmt.Errorf("start DNS server: %w", err)
		}
		logger.Info("drone directory enabled", logging.Domain(cfg.DNS.Domain), logging.Port(cfg.DNS.Port))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx, b.Ingress(), b.Commands())
	}()

	select {
	case err = <-runErr:
	case serr, ok := <-statusErr:
		if ok {
			logger.Error("status server failed", zap.Error(serr))
		}
		eng.Stop()
		err = <-runErr
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if status != nil {
		status.Shutdown(shutdownCtx)
	}
	if dnsSrv != nil {
		dnsSrv.Shutdown(shutdownCtx)
	}

	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
