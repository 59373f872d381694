package config

// Package config provides a reusable loader for indexer configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"indexer-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for an indexer-core process.
// It mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ProtocolNetwork string `mapstructure:"protocol_network" json:"protocol_network"`
		Indexer         string `mapstructure:"indexer" json:"indexer"`
	} `mapstructure:"network" json:"network"`

	Postgres struct {
		DSN          string `mapstructure:"dsn" json:"dsn"`
		MaxConns     int32  `mapstructure:"max_conns" json:"max_conns"`
		StatementLog bool   `mapstructure:"statement_log" json:"statement_log"`
	} `mapstructure:"postgres" json:"postgres"`

	ReceiptIngress struct {
		ListenAddr   string `mapstructure:"listen_addr" json:"listen_addr"`
		FlushPeriod  string `mapstructure:"flush_period" json:"flush_period"`
		ClientSigner string `mapstructure:"client_signer" json:"client_signer"`
	} `mapstructure:"receipt_ingress" json:"receipt_ingress"`

	Aggregator struct {
		Endpoint        string `mapstructure:"endpoint" json:"endpoint"`
		SenderAddress   string `mapstructure:"sender_address" json:"sender_address"`
		MaxBatchSize    int    `mapstructure:"max_batch_size" json:"max_batch_size"`
		RequestTimeout  string `mapstructure:"request_timeout" json:"request_timeout"`
		MaxRetries      int    `mapstructure:"max_retries" json:"max_retries"`
	} `mapstructure:"aggregator" json:"aggregator"`

	RAVLoop struct {
		TickPeriod           string `mapstructure:"tick_period" json:"tick_period"`
		AggregationThreshold string `mapstructure:"aggregation_threshold" json:"aggregation_threshold"`
		FinalEpochWindow     int    `mapstructure:"final_epoch_window" json:"final_epoch_window"`
		Concurrency          int    `mapstructure:"concurrency" json:"concurrency"`
	} `mapstructure:"rav_loop" json:"rav_loop"`

	Actions struct {
		CoolOff string `mapstructure:"cool_off" json:"cool_off"`
	} `mapstructure:"actions" json:"actions"`

	ManagementAPI struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"management_api" json:"management_api"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env via godotenv in cmd entrypoints

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the INDEXER_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("INDEXER_ENV", ""))
}
