// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	goflag "flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

const envPrefix = "RSTRNT_"

type LogConfig struct {
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	AlsoStderr bool   `yaml:"also_stderr" env:"ALSO_STDERR"`
}

type Config struct {
	ListenAddr   string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	StateFile string `yaml:"state_file" env:"STATE_FILE"`
	BasePath  string `yaml:"base_path" env:"BASE_PATH"`
	LogDir    string `yaml:"log_dir" env:"LOG_DIR"`
	PluginDir string `yaml:"plugin_dir" env:"PLUGIN_DIR"`

	YumCommand string `yaml:"yum_command" env:"YUM_COMMAND"`
	GitCommand string `yaml:"git_command" env:"GIT_COMMAND"`

	Heartbeat      time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
	UploadInterval time.Duration `yaml:"upload_interval" env:"UPLOAD_INTERVAL"`
	PluginTimeout  time.Duration `yaml:"plugin_timeout" env:"PLUGIN_TIMEOUT"`

	HarnessTimeout time.Duration `yaml:"harness_timeout" env:"HARNESS_TIMEOUT"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
	FetchAttempts  uint          `yaml:"fetch_attempts" env:"FETCH_ATTEMPTS"`
	FetchDelay     time.Duration `yaml:"fetch_delay" env:"FETCH_DELAY"`
	RecipeTimeout  time.Duration `yaml:"recipe_timeout" env:"RECIPE_TIMEOUT"`
	RecipeRetries  int           `yaml:"recipe_retries" env:"RECIPE_RETRIES"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Log LogConfig `yaml:"log" envPrefix:"LOG_"`
}

func NewConfig() *Config {
	return &Config{
		ListenAddr:      "localhost:8081",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		StateFile:       "/var/lib/restraint/state.yaml",
		BasePath:        "/mnt/tests",
		LogDir:          "/var/lib/restraint/logs",
		PluginDir:       "/usr/share/restraint/plugins",
		YumCommand:      "yum",
		GitCommand:      "git",
		Heartbeat:       60 * time.Second,
		UploadInterval:  15 * time.Second,
		PluginTimeout:   5 * time.Minute,
		HarnessTimeout:  30 * time.Second,
		FetchTimeout:    10 * time.Minute,
		FetchAttempts:   5,
		FetchDelay:      5 * time.Second,
		RecipeTimeout:   time.Minute,
		RecipeRetries:   5,
		ShutdownTimeout: 30 * time.Second,
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load builds the configuration from defaults, the --config file, RSTRNT_*
// environment variables and finally the command line, later sources
// overriding earlier ones.
func Load(args []string) (*Config, error) {
	c := NewConfig()

	pre := pflag.NewFlagSet("config", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path := pre.String("config", "", "")
	// Help is handled by the full parse below.
	pre.BoolP("help", "h", false, "")
	if err := pre.Parse(args); err != nil {
		return nil, err
	}
	if *path != "" {
		if err := c.LoadFromFile(*path); err != nil {
			return nil, err
		}
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("restraintd", pflag.ContinueOnError)
	fs.String("config", *path, "YAML configuration file")
	if err := c.LoadFromFlags(fs, args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	klog.V(1).InfoS("configuration file loaded", "path", path)
	return nil
}

// LoadFromEnv applies the RSTRNT_* variables that are set, such as
// RSTRNT_BASE_PATH or RSTRNT_LOG_FILE.
func (c *Config) LoadFromEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// LoadFromFlags registers every setting on fs, with the current values as
// defaults, and parses args. klog flags are registered too.
func (c *Config) LoadFromFlags(fs *pflag.FlagSet, args []string) error {
	fs.StringVar(&c.ListenAddr, "listen-addr", c.ListenAddr, "control API listen address")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "control API read timeout")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "control API write timeout")
	fs.StringVar(&c.StateFile, "state-file", c.StateFile, "file holding the resumable run state")
	fs.StringVar(&c.BasePath, "base-path", c.BasePath, "directory tasks and repo dependencies are fetched into")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "directory for per-task logs")
	fs.StringVar(&c.PluginDir, "plugin-dir", c.PluginDir, "directory holding completed.d plugins")
	fs.StringVar(&c.YumCommand, "yum-command", c.YumCommand, "package manager used for dependencies")
	fs.StringVar(&c.GitCommand, "git-command", c.GitCommand, "git binary used for git fetches")
	fs.DurationVar(&c.Heartbeat, "heartbeat", c.Heartbeat, "interval between task heartbeats")
	fs.DurationVar(&c.UploadInterval, "upload-interval", c.UploadInterval, "interval between log uploads")
	fs.DurationVar(&c.PluginTimeout, "plugin-timeout", c.PluginTimeout, "maximum run time of one completion plugin")
	fs.DurationVar(&c.HarnessTimeout, "harness-timeout", c.HarnessTimeout, "timeout of one harness request")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "timeout of one archive download")
	fs.UintVar(&c.FetchAttempts, "fetch-attempts", c.FetchAttempts, "attempts per task fetch")
	fs.DurationVar(&c.FetchDelay, "fetch-delay", c.FetchDelay, "delay between fetch attempts")
	fs.DurationVar(&c.RecipeTimeout, "recipe-timeout", c.RecipeTimeout, "timeout of one recipe download")
	fs.IntVar(&c.RecipeRetries, "recipe-retries", c.RecipeRetries, "attempts per recipe download")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "time allowed for a graceful shutdown")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "rotating daemon log file; empty logs to stderr")
	fs.IntVar(&c.Log.MaxSizeMB, "log-max-size", c.Log.MaxSizeMB, "size in megabytes before the log file is rotated")
	fs.IntVar(&c.Log.MaxBackups, "log-max-backups", c.Log.MaxBackups, "rotated log files to keep")
	fs.IntVar(&c.Log.MaxAgeDays, "log-max-age", c.Log.MaxAgeDays, "days to keep rotated log files")
	fs.BoolVar(&c.Log.AlsoStderr, "log-also-stderr", c.Log.AlsoStderr, "mirror the log file to stderr")

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}
	if c.BasePath == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if c.FetchAttempts == 0 {
		return fmt.Errorf("fetch attempts must be at least 1")
	}
	if c.RecipeRetries <= 0 {
		return fmt.Errorf("recipe retries must be at least 1")
	}
	return nil
}
