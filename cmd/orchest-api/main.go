/*
Copyright 2024 The Orchest Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/config"
	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/gc"
	"github.com/orchest/orchest-api/pkg/orchestapi/health"
	"github.com/orchest/orchest-api/pkg/orchestapi/httpapi"
	"github.com/orchest/orchest-api/pkg/orchestapi/lock"
	"github.com/orchest/orchest-api/pkg/orchestapi/metrics"
	"github.com/orchest/orchest-api/pkg/orchestapi/scheduler"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
	"github.com/orchest/orchest-api/pkg/orchestapi/tlsutil"
	"github.com/orchest/orchest-api/pkg/orchestapi/tpe"
)

type options struct {
	configPath string
	tls        tlsutil.Options
}

func gatherOptions(fs *pflag.FlagSet, args ...string) options {
	var o options
	fs.StringVar(&o.configPath, "config-path", "/etc/orchest-api/config.yaml", "Path to the orchest-api YAML config file.")
	o.tls.AddFlags(fs)
	fs.Parse(args)
	return o
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	o := gatherOptions(pflag.NewFlagSet(os.Args[0], pflag.ExitOnError), os.Args[1:]...)
	if err := o.tls.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid TLS options")
	}

	agent, err := config.NewAgent(o.configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	cfg := agent.Config()

	logger, err := zap.NewProduction()
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := agent.Watch(ctx, o.configPath, logger); err != nil {
			logger.Error("config watch stopped", zap.Error(err))
		}
	}()

	if cfg.DockerHost != "" {
		os.Setenv("DOCKER_HOST", cfg.DockerHost)
	}

	st, err := store.Open(ctx, cfg.DSN, logger)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open state store")
	}
	defer st.Close()

	if err := store.Migrate(ctx, st); err != nil {
		logrus.WithError(err).Fatal("failed to apply state store migrations")
	}

	runtime, err := cra.NewDocker(logger)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build container runtime adapter")
	}

	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.RedisAddr)
		},
	}
	defer pool.Close()
	bus := taskbus.NewRedis(pool, logger)

	ex := tpe.New(st, logger)
	locker := lock.New(runtime, logger)

	runs := controllers.NewPipelineRunController(st, ex, bus, runtime, locker, logger)
	jupyterGateway := controllers.NewJupyterGatewayClient(cfg.JupyterGatewayToken)
	sessions := controllers.NewSessionController(st, ex, runtime, runs, jupyterGateway, logger)
	envBuilds := controllers.NewEnvironmentBuildController(st, ex, bus, runtime, logger)
	jupyterBuilds := controllers.NewJupyterBuildController(st, ex, bus, runtime, logger)
	jobs := controllers.NewJobController(st, ex, runs, logger)

	collector, err := gc.New(runtime, st.Runs, logger)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build garbage collector")
	}
	go collector.Run(ctx, cfg.GCInterval)

	jobPoller := scheduler.NewJobPoller(jobs, logger)
	go jobPoller.Run(ctx, cfg.JobPollInterval)

	wheel := scheduler.New(st, logger, cfg.SchedulerTickInterval,
		scheduler.RegisteredJob{
			Type:     "TELEMETRY_HEARTBEAT",
			Interval: time.Hour,
			Handler: func(ctx context.Context) error {
				logger.Debug("telemetry heartbeat tick")
				return nil
			},
		},
		scheduler.RegisteredJob{
			Type:     "ORCHEST_EXAMPLES",
			Interval: 24 * time.Hour,
			Handler: func(ctx context.Context) error {
				logger.Debug("orchest examples refresh tick")
				return nil
			},
		},
	)
	go wheel.Run(ctx)

	go func() {
		if err := metrics.Expose(cfg.MetricsAddr); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	healthHandler := health.New()
	healthHandler.SetLiveness(func() bool { return true })
	healthHandler.SetReadiness(func() bool {
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		defer pingCancel()
		return st.Ping(pingCtx) == nil
	})

	srv := &httpapi.Server{
		EnvironmentBuilds: envBuilds,
		JupyterBuilds:     jupyterBuilds,
		Sessions:          sessions,
		Runs:              runs,
		Jobs:              jobs,
		Runtime:           runtime,
		GC:                collector,
		Health:            healthHandler,
		Logger:            logger,
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("orchest-api listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", o.tls.EnableSSL))
	if o.tls.EnableSSL {
		err = httpServer.ListenAndServeTLS(o.tls.CertFile, o.tls.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Fatal("http server failed")
	}
}
