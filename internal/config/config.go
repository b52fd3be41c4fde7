package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// RuntimeConfig controls the container runtime client.
type RuntimeConfig struct {
	Executable       string            `mapstructure:"executable"`
	Image            string            `mapstructure:"image"`
	Cwd              string            `mapstructure:"cwd"`
	RunArgs          []string          `mapstructure:"run_args"`
	ContainerTimeout string            `mapstructure:"container_timeout"`
	PullTimeout      time.Duration     `mapstructure:"pull_timeout"`
	ExecTimeout      time.Duration     `mapstructure:"exec_timeout"`
	Namespaces       []string          `mapstructure:"namespaces"`
	ContainerName    string            `mapstructure:"container_name"`
	DiscoverRetries  int               `mapstructure:"discover_retries"`
	DiscoverBackoff  time.Duration     `mapstructure:"discover_backoff"`
	ForwardEnv       []string          `mapstructure:"forward_env"`
	Env              map[string]string `mapstructure:"env"`
}

// EvalConfig controls the evaluation pipeline.
type EvalConfig struct {
	WorkDir            string        `mapstructure:"work_dir"`
	CodeRoot           string        `mapstructure:"code_root"`
	Timeout            time.Duration `mapstructure:"timeout"`
	FailOnlyRepos      []string      `mapstructure:"fail_only_repos"`
	IncludeTestsStatus bool          `mapstructure:"include_tests_status"`
}

// RewardConfig controls the reward entry point.
type RewardConfig struct {
	DatasetPath string        `mapstructure:"dataset_path"`
	SharePath   string        `mapstructure:"share_path"`
	EvalCommand string        `mapstructure:"eval_command"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DevConfig controls the dev session tasks.
type DevConfig struct {
	ServerCommand    string `mapstructure:"server_command"`
	InspectorCommand string `mapstructure:"inspector_command"`
	InspectorPort    int    `mapstructure:"inspector_port"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type Config struct {
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Eval    EvalConfig    `mapstructure:"eval"`
	Reward  RewardConfig  `mapstructure:"reward"`
	Dev     DevConfig     `mapstructure:"dev"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
}

// Load reads crucible.yaml from the working directory or ~/.crucible.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("crucible")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.crucible")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.executable", "")
	v.SetDefault("runtime.cwd", "/testbed")
	v.SetDefault("runtime.run_args", []string{"--rm"})
	v.SetDefault("runtime.container_timeout", "2h")
	v.SetDefault("runtime.pull_timeout", 10*time.Minute)
	v.SetDefault("runtime.exec_timeout", time.Hour)
	v.SetDefault("runtime.namespaces", []string{"k8s.io", "default"})
	v.SetDefault("runtime.container_name", "sandbox")
	v.SetDefault("runtime.discover_retries", 5)
	v.SetDefault("runtime.discover_backoff", time.Second)

	v.SetDefault("eval.code_root", "/testbed")
	v.SetDefault("eval.timeout", time.Hour)
	v.SetDefault("eval.include_tests_status", true)

	v.SetDefault("reward.share_path", "/shared")
	v.SetDefault("reward.eval_command", "crucible eval --details /shared/details.json")
	v.SetDefault("reward.timeout", 30*time.Second)

	v.SetDefault("dev.inspector_port", 6274)

	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".crucible", "crucible.db"))
}
