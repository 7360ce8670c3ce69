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

// Package config loads the orchest-api YAML configuration file and keeps
// an in-memory copy fresh via an fsnotify watch, the same configAgent
// shape cmd/horologium/main.go builds around
// sigs.k8s.io/prow/pkg/flagutil/config's ConfigOptions, minus the
// Kubernetes-specific job/plugin validation that agent also carries.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the orchest-api process configuration.
type Config struct {
	// HTTPAddr is the address the HTTP facade listens on.
	HTTPAddr string `yaml:"http_addr"`
	// DSN is the Postgres connection string the State Store opens.
	DSN string `yaml:"dsn"`
	// RedisAddr is the address of the Task Bus's backing Redis instance.
	RedisAddr string `yaml:"redis_addr"`
	// DockerHost, if set, overrides DOCKER_HOST for the Container Runtime
	// Adapter's client.
	DockerHost string `yaml:"docker_host"`

	// SchedulerTickInterval is how often the Recurring Scheduler wheel
	// checks its registered jobs.
	SchedulerTickInterval time.Duration `yaml:"scheduler_tick_interval"`
	// JobPollInterval is how often the per-Job cron poller looks for due
	// jobs.
	JobPollInterval time.Duration `yaml:"job_poll_interval"`
	// GCInterval is how often the Garbage Collector sweeps every project
	// for dangling images.
	GCInterval time.Duration `yaml:"gc_interval"`

	// MetricsAddr is the address the Prometheus handler listens on.
	MetricsAddr string `yaml:"metrics_addr"`

	// JupyterGatewayToken authenticates the session controller's gateway
	// shutdown call against a launched session's kernel gateway.
	JupyterGatewayToken string `yaml:"jupyter_gateway_token"`
}

// defaults mirrors the literal defaults cmd/horologium/main.go falls back
// to when its config doesn't set Horologium.TickInterval.
func defaults() Config {
	return Config{
		HTTPAddr:              ":8080",
		SchedulerTickInterval: time.Minute,
		JobPollInterval:       10 * time.Second,
		GCInterval:            15 * time.Minute,
		MetricsAddr:           ":9090",
	}
}

func load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DSN == "" {
		return Config{}, fmt.Errorf("config: dsn is required")
	}
	return cfg, nil
}

// Agent holds the most recently loaded Config and refreshes it whenever
// the backing file changes, mirroring configAgent's role of handing every
// consumer a live *Config via Config() rather than a snapshot taken at
// startup.
type Agent struct {
	mu  sync.RWMutex
	cfg Config
}

// NewAgent loads path once and returns an Agent seeded with the result.
func NewAgent(path string) (*Agent, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Agent{cfg: cfg}, nil
}

// Config returns the most recently loaded configuration.
func (a *Agent) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *Agent) set(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}
