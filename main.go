package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gachasync/config"
	"gachasync/internal/channel"
	"gachasync/internal/dashboard"
	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/processor"
	"gachasync/reader/endfield"
	"gachasync/store"
	"gachasync/writer"
)

const defaultConfigPath = "config/config.yml"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath, defaultConfigPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"accounts":    len(cfg.Accounts),
	}).Info("starting gachasync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	metrics.Init()
	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	if cw := cfg.Logging.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(cw.Region, cw.Namespace, cw.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	backend, err := store.New(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Error("failed to open storage backend")
		os.Exit(1)
	}
	defer backend.Close()

	pools, err := store.NewPoolInfoCache(backend)
	if err != nil {
		log.WithError(err).Error("failed to create pool info cache")
		os.Exit(1)
	}

	accounts := store.NewAccountStore(backend)
	if err := accounts.Seed(ctx, cfg.Accounts); err != nil {
		log.WithError(err).Error("failed to seed accounts")
		os.Exit(1)
	}

	client := endfield.NewClient(cfg.Reader)

	channels := channel.NewChannels(cfg.Processor.QueueSize, cfg.Processor.QueueSize)
	channels.SetSinks(cfg.Storage.S3.Enabled, cfg.Kafka.Enabled)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx, 30*time.Second)
	metrics.StartChannelSizeMetrics(ctx, channels, 10*time.Second)

	syncProcessor := processor.NewSyncProcessor(cfg.Processor, channels, client, backend, accounts, pools)

	var s3Writer *writer.S3Writer
	if cfg.Storage.S3.Enabled {
		s3Writer, err = writer.NewS3Writer(cfg, channels.Archive)
		if err != nil {
			log.WithError(err).Error("failed to create S3 writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 archive disabled; skipping writer")
	}

	var kafkaWriter *writer.KafkaWriter
	if cfg.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg.Kafka, channels.Events)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log, dashboard.Deps{
		Accounts: accounts,
		History:  backend,
		Pools:    pools,
		Syncer:   syncProcessor,
		Progress: channels.Progress,
		DataDir:  cfg.Storage.DataDir,
	})
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	if s3Writer != nil {
		if err := s3Writer.Start(ctx); err != nil {
			log.WithError(err).Warn("s3 writer failed to start")
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("kafka writer failed to start")
		}
	}
	if err := syncProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("sync processor failed to start")
		os.Exit(1)
	}

	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	scheduler := processor.NewScheduler(cfg.Processor.Interval, accounts, syncProcessor)
	if err := scheduler.Start(ctx); err != nil {
		log.WithError(err).Error("scheduler failed to start")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	scheduler.Stop()
	cancel()

	log.Info("stopping sync processor")
	syncProcessor.Stop()

	if s3Writer != nil {
		log.Info("stopping S3 writer")
		s3Writer.Stop()
	}
	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("gachasync stopped")
}
