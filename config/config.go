package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/burnbox/globals"
)

const (
	defaultStoreType       = "buntdb"
	defaultStorePath       = "burnbox.db"
	defaultMaxRoomTTL      = 7 * 24 * 3600 // seconds
	defaultMaxUploadBytes  = 25 << 20
	defaultMaxMessageBytes = 64 << 10
	defaultCacheSize       = 1024
	defaultCacheTTL        = 5 // seconds
	defaultQueueSize       = 1024
	defaultSweepInterval   = 10 // minutes
)

// Config is the global configuration object which is filled via the
// configuration file, environment and bound flags.
type Config struct {
	LogLevel      string        `mapstructure:"log_level"`
	StoreConfig   StoreConfig   `mapstructure:"store"`
	ObjectConfig  ObjectConfig  `mapstructure:"object_store"`
	LimitsConfig  LimitsConfig  `mapstructure:"limits"`
	CacheConfig   CacheConfig   `mapstructure:"cache"`
	RelayConfig   RelayConfig   `mapstructure:"relay"`
	CleanupConfig CleanupConfig `mapstructure:"cleanup"`
}

// StoreConfig selects and configures the metadata store backend. Type is
// either "redis" (Address/Password/Database) or "buntdb" (Path, use
// ":memory:" for a throwaway store).
type StoreConfig struct {
	Type     string `mapstructure:"type"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
	Path     string `mapstructure:"path"`
}

// ObjectConfig configures the S3-compatible object store. If Endpoint or
// Bucket is empty, no object store is attached and all file endpoints answer
// SERVICE_UNAVAILABLE.
type ObjectConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

func (c ObjectConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type LimitsConfig struct {
	MaxRoomTTLSeconds int64 `mapstructure:"max_room_ttl_seconds"`
	MaxUploadBytes    int64 `mapstructure:"max_upload_bytes"`
	MaxMessageBytes   int64 `mapstructure:"max_message_bytes"`
}

func (c LimitsConfig) MaxRoomTTL() time.Duration {
	return time.Duration(c.MaxRoomTTLSeconds) * time.Second
}

// CacheConfig sizes the room read-through cache. TTLSeconds bounds staleness,
// it is intentionally short.
type CacheConfig struct {
	Size       int `mapstructure:"size"`
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RelayConfig sizes the bounded persistence queue between the relay and the
// store writer.
type RelayConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type CleanupConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	RunOnStart      bool `mapstructure:"run_on_start"`
}

func (c CleanupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE/DEBUG/INFO/WARN/ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("store.type", defaultStoreType)
	viper.SetDefault("store.path", defaultStorePath)
	viper.SetDefault("limits.max_room_ttl_seconds", defaultMaxRoomTTL)
	viper.SetDefault("limits.max_upload_bytes", defaultMaxUploadBytes)
	viper.SetDefault("limits.max_message_bytes", defaultMaxMessageBytes)
	viper.SetDefault("cache.size", defaultCacheSize)
	viper.SetDefault("cache.ttl_seconds", defaultCacheTTL)
	viper.SetDefault("relay.queue_size", defaultQueueSize)
	viper.SetDefault("cleanup.interval_minutes", defaultSweepInterval)
	viper.SetDefault("cleanup.run_on_start", true)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("BURNBOX")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	return &cfg, nil
}
