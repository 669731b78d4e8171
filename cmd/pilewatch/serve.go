package main

import (
	"context"

	"codeberg.org/mutker/pilewatch/internal/api"
	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/generator"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/metrics"
	"codeberg.org/mutker/pilewatch/internal/monitor"
	"codeberg.org/mutker/pilewatch/internal/pid"
	"codeberg.org/mutker/pilewatch/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, reading generator and Kafka consumer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	errFactory := errors.New()

	if !cfg.Generator.Enabled && !cfg.Kafka.Consume && !cfg.API.Enabled {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "nothing to serve: enable the generator, the API or the Kafka consumer")
	}

	if err := pid.Write(cfg.PIDDir); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDDir); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	store, err := openStore(ctx)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer closeStore(store)

	collector := metrics.New(true)
	mon := monitor.New(store, logger.Default().With("monitor"),
		monitor.WithMetrics(collector),
		monitor.WithHistoryLimit(cfg.Database.HistoryLimit))

	// Prime the risk gauges before the first scrape.
	if _, err := mon.Snapshot(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial snapshot failed")
	}

	streamCfg := stream.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Generator.Enabled {
		opts := []generator.Option{generator.WithMetrics(collector)}
		if cfg.Kafka.Publish {
			pub, err := stream.NewPublisher(streamCfg, logger.Default().With("publisher"))
			if err != nil {
				return errFactory.Wrap(errors.ErrInitApp, err)
			}
			defer func() {
				if err := pub.Close(); err != nil {
					logger.Error().Err(err).Msg("Failed to close Kafka publisher")
				}
			}()
			opts = append(opts, generator.WithSink(pub))
		}

		gen, err := generator.New(store, generatorConfig(), logger.Default().With("generator"), opts...)
		if err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		g.Go(func() error { return gen.Run(ctx) })
	}

	if cfg.Kafka.Consume {
		consumer, err := stream.NewConsumer(streamCfg, store, collector, logger.Default().With("consumer"))
		if err != nil {
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if cfg.API.Enabled {
		srv := api.New(cfg.API.Addr, mon, collector, logger.Default().With("api"))
		g.Go(func() error { return srv.Run(ctx) })
	}

	logger.Info().
		Bool("generator", cfg.Generator.Enabled).
		Bool("api", cfg.API.Enabled).
		Bool("kafka_publish", cfg.Kafka.Publish).
		Bool("kafka_consume", cfg.Kafka.Consume).
		Msg("pilewatch started")

	if err := g.Wait(); err != nil {
		return errFactory.Wrap(errors.ErrServeFailed, err)
	}

	logger.Info().Msg("Exiting...")
	return nil
}

func generatorConfig() generator.Config {
	return generator.Config{
		Interval:   cfg.Generator.Interval,
		MaxPiles:   cfg.Generator.MaxPiles,
		MinVoltage: cfg.Generator.MinVoltage,
		MaxVoltage: cfg.Generator.MaxVoltage,
		Precision:  cfg.Generator.Precision,
	}
}
