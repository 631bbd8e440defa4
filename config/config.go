package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string        `mapstructure:"environment"`
	Server      ServerConfig  `mapstructure:"server"`
	Log         LogConfig     `mapstructure:"log"`
	LevelDB     LevelDBConfig `mapstructure:"leveldb"`
	History     HistoryConfig `mapstructure:"history"`
	Collab      CollabConfig  `mapstructure:"collab"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"` // empty keeps documents in memory
}

type HistoryConfig struct {
	MaxCheckpoints  int `mapstructure:"max_checkpoints"`
	CheckpointEvery int `mapstructure:"checkpoint_every"`
	MaxSnapshots    int `mapstructure:"max_snapshots"`
}

type CollabConfig struct {
	PersistDebounce time.Duration `mapstructure:"persist_debounce"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "local")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "data/documents")
	v.SetDefault("history.max_checkpoints", 50)
	v.SetDefault("history.checkpoint_every", 5)
	v.SetDefault("history.max_snapshots", 20)
	v.SetDefault("collab.persist_debounce", "2s")
}

// Load reads the config file at path, applies COLLAB_* environment overrides
// (e.g. COLLAB_SERVER_PORT) and validates the result.
func Load(path string) (*viper.Viper, *Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// Watch calls onChange with the re-read config whenever the config file
// changes. Invalid edits are passed to onError and otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.History.MaxCheckpoints < 1 {
		return fmt.Errorf("history.max_checkpoints must be at least 1, got %d", c.History.MaxCheckpoints)
	}
	if c.History.CheckpointEvery < 1 {
		return fmt.Errorf("history.checkpoint_every must be at least 1, got %d", c.History.CheckpointEvery)
	}
	if c.History.MaxSnapshots < 1 {
		return fmt.Errorf("history.max_snapshots must be at least 1, got %d", c.History.MaxSnapshots)
	}
	if c.Collab.PersistDebounce <= 0 {
		return fmt.Errorf("collab.persist_debounce must be positive, got %s", c.Collab.PersistDebounce)
	}
	return nil
}
