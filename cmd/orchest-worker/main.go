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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/taskbus"
	"github.com/orchest/orchest-api/pkg/orchestapi/worker"
)

type options struct {
	apiAddr    string
	redisAddr  string
	dockerHost string
}

func gatherOptions(fs *pflag.FlagSet, args ...string) options {
	var o options
	fs.StringVar(&o.apiAddr, "api-addr", "http://orchest-api:80", "Address of the orchest-api HTTP facade to report status updates to.")
	fs.StringVar(&o.redisAddr, "redis-addr", "redis:6379", "Address of the Task Bus's backing Redis instance.")
	fs.StringVar(&o.dockerHost, "docker-host", "", "Overrides DOCKER_HOST for the container runtime adapter, if set.")
	fs.Parse(args)
	return o
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	o := gatherOptions(pflag.NewFlagSet(os.Args[0], pflag.ExitOnError), os.Args[1:]...)

	logger, err := zap.NewProduction()
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if o.dockerHost != "" {
		os.Setenv("DOCKER_HOST", o.dockerHost)
	}

	runtime, err := cra.NewDocker(logger)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build container runtime adapter")
	}

	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", o.redisAddr)
		},
	}
	defer pool.Close()
	bus := taskbus.NewRedis(pool, logger)

	reporter := worker.NewHTTPReporter(o.apiAddr, logger)
	w := worker.New(bus, runtime, reporter, logger)

	logger.Info("orchest-worker started", zap.String("api_addr", o.apiAddr))
	w.Run(ctx)
	logger.Info("orchest-worker stopped")
}
