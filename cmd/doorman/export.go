package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/doorman/config"
	"github.com/mohammad-safakhou/doorman/internal/export"
	"github.com/mohammad-safakhou/doorman/internal/logsink"
	"github.com/mohammad-safakhou/doorman/internal/query"
	"github.com/mohammad-safakhou/doorman/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func exportCMD() *cobra.Command {
	var qf queryFlags
	var filePath, stream, schedule string
	var cfgPath string

	var cmd = &cobra.Command{
		Use:   "export",
		Short: "Forward query results to the configured log sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("file") {
				cfg.Export.FilePath = filePath
			}
			if cmd.Flags().Changed("stream") {
				cfg.Export.RedisStream = stream
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Export.Schedule = schedule
			}
			if err := cfg.Export.Validate(); err != nil {
				return err
			}
			logger := log.New(log.Writer(), "[EXPORT] ", log.LstdFlags)

			kind, filters, order, err := qf.parse()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rdb, err := openRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			sinks, err := buildSinks(cfg, rdb)
			if err != nil {
				return err
			}
			defer func() {
				for _, s := range sinks {
					if cerr := s.Close(); cerr != nil {
						logger.Printf("close %s: %v", s.Name(), cerr)
					}
				}
			}()

			tel := telemetry.New(cfg.Telemetry)
			exp := &export.Exporter{
				Engine:    &query.Engine{Store: st, Observer: tel},
				Sinks:     sinks,
				BatchSize: cfg.Export.BatchSize,
				Metrics:   tel,
				Logger:    logger,
			}
			job := export.Job{Kind: kind, Filters: filters, Order: order}

			if cfg.Export.Schedule == "" {
				sum, err := exp.Run(ctx, job)
				if perr := tel.Push(context.WithoutCancel(ctx)); perr != nil {
					logger.Printf("%v", perr)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			}

			sched, err := export.NewScheduler(exp, job, cfg.Export.Schedule)
			if err != nil {
				return err
			}
			if rdb != nil {
				sched.Lock = rdb
				sched.LockTTL = cfg.Export.LockTTL
			}
			go func() {
				if err := tel.Serve(ctx); err != nil {
					logger.Printf("metrics server error: %v", err)
				}
			}()
			logger.Printf("scheduled %s export (%s), next run %s", kind, cfg.Export.Schedule, sched.Next(time.Now()))
			return sched.Run(ctx)
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&filePath, "file", "", "append JSON lines to this file (overrides export.file_path)")
	cmd.Flags().StringVar(&stream, "stream", "", "publish to this Redis stream (overrides export.redis_stream)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression; run repeatedly instead of once")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

func buildSinks(cfg *config.Config, rdb *redis.Client) ([]logsink.Sink, error) {
	var sinks []logsink.Sink
	if cfg.Export.FilePath != "" {
		f, err := logsink.OpenFile(cfg.Export.FilePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, f)
	}
	if cfg.Export.RedisStream != "" {
		if rdb == nil {
			return nil, fmt.Errorf("export.redis_stream set but storage.redis is not configured")
		}
		s, err := logsink.NewStreamSink(rdb, cfg.Export.RedisStream, logsink.WithMaxLenApprox(cfg.Export.MaxLen))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no export sinks configured (export.file_path or export.redis_stream)")
	}
	return sinks, nil
}
