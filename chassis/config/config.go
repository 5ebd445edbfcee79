package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// AppConfig ...
type AppConfig struct {
	Storage struct {
		DSN string `yaml:"dsn"`
	}
	Metrics struct {
		Addr string `yaml:"addr"`
	}
	Worker struct {
		ID             string   `yaml:"id"`
		TaskTypes      []string `yaml:"taskTypes"`
		MaxTasks       int      `yaml:"maxTasks"`
		PollDelaySec   int      `yaml:"pollDelaySec"`
		TaskTimeoutSec int      `yaml:"taskTimeoutSec"`
		LogLevel       string   `yaml:"loglevel"`
	}
	Janitor struct {
		IntervalSec      int    `yaml:"intervalSec"`
		DaysToKeep       int    `yaml:"daysToKeep"`
		StaleTimeoutSec  int    `yaml:"staleTimeoutSec"`
		RecoverBatchSize int    `yaml:"recoverBatchSize"`
		LogLevel         string `yaml:"loglevel"`
	}
	API struct {
		Addr     string `yaml:"addr"`
		LogLevel string `yaml:"loglevel"`
	}
}

// Read ...
func Read() (*AppConfig, error) {
	filename := os.Getenv("CFG_PATH")
	cfg := &AppConfig{}
	buff, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(buff, cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":2112"
	}
	if cfg.Worker.MaxTasks == 0 {
		cfg.Worker.MaxTasks = 10
	}
	if cfg.Worker.PollDelaySec == 0 {
		cfg.Worker.PollDelaySec = 5
	}
	if cfg.Worker.TaskTimeoutSec == 0 {
		cfg.Worker.TaskTimeoutSec = 1800
	}
	if cfg.Janitor.IntervalSec == 0 {
		cfg.Janitor.IntervalSec = 60
	}
	if cfg.Janitor.DaysToKeep == 0 {
		cfg.Janitor.DaysToKeep = 30
	}
	if cfg.Janitor.StaleTimeoutSec == 0 {
		cfg.Janitor.StaleTimeoutSec = 3600
	}
	if cfg.Janitor.RecoverBatchSize == 0 {
		cfg.Janitor.RecoverBatchSize = 100
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
}
