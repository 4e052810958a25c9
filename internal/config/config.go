package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"maxpop/internal/queue"
	"maxpop/internal/runner"
)

const (
	FillModeDatastore = "datastore"
	FillModeHTTP      = "http"
)

type MaxPop struct {
	StartQueues           int `mapstructure:"start_queues"`
	StartPayload          int `mapstructure:"start_payload"`
	MaxPops               int `mapstructure:"max_pops"`
	QueuesInterval        int `mapstructure:"queues_interval"`
	MaxPayload            int `mapstructure:"max_payload"`
	PayloadLengthInterval int `mapstructure:"payload_length_interval"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATS struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type Control struct {
	Addr string `mapstructure:"addr"`
}

type History struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Config is the full settings tree read from file, env and flags.
type Config struct {
	Protocol    string           `mapstructure:"protocol"`
	AgentsHosts []queue.Endpoint `mapstructure:"agentsHosts"`
	Slice       int              `mapstructure:"slice"`
	MaxPop      MaxPop           `mapstructure:"maxPop"`

	Cooldown     time.Duration `mapstructure:"cooldown"`
	PopTimeout   time.Duration `mapstructure:"pop_timeout"`
	PopRate      float64       `mapstructure:"pop_rate"`
	MaxInflight  int           `mapstructure:"max_inflight"`
	OriginQueue  string        `mapstructure:"origin_queue"`
	TransPrefix  string        `mapstructure:"trans_prefix"`
	ControllerID int           `mapstructure:"controller_id"`
	FillMode     string        `mapstructure:"fill_mode"`
	FillErrors   string        `mapstructure:"fill_errors"`

	Redis   Redis   `mapstructure:"redis"`
	NATS    NATS    `mapstructure:"nats"`
	Control Control `mapstructure:"control"`
	History History `mapstructure:"history"`
	Log     Log     `mapstructure:"log"`
}

// SetDefaults registers every scalar key so env overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("protocol", "http")
	v.SetDefault("slice", 1)
	v.SetDefault("maxPop.start_queues", 1)
	v.SetDefault("maxPop.start_payload", 1)
	v.SetDefault("maxPop.max_pops", 1000)
	v.SetDefault("maxPop.queues_interval", 100)
	v.SetDefault("maxPop.max_payload", 1000)
	v.SetDefault("maxPop.payload_length_interval", 100)

	v.SetDefault("cooldown", runner.DefaultCooldown)
	v.SetDefault("pop_timeout", time.Duration(0))
	v.SetDefault("pop_rate", 0.0)
	v.SetDefault("max_inflight", runner.DefaultMaxInflight)
	v.SetDefault("origin_queue", runner.DefaultOriginQueue)
	v.SetDefault("trans_prefix", "UNSEC:")
	v.SetDefault("controller_id", runner.DefaultControllerID)
	v.SetDefault("fill_mode", FillModeDatastore)
	v.SetDefault("fill_errors", "ignore")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "maxpop.")
	v.SetDefault("control.addr", "")
	v.SetDefault("history.path", defaultHistoryPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "maxpop.db"
	}
	return filepath.Join(home, ".maxpop.db")
}

// Init points v at the config file (or $HOME/.maxpop.yaml) and the MAXPOP_ env namespace.
// A missing default file is not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix("MAXPOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName(".maxpop")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load decodes v into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode reads v without validating it. Commands that never launch a run use it.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Older config files spell this key without the second "r".
	if !v.InConfig("maxPop.queues_interval") && v.IsSet("maxPop.queues_inteval") {
		cfg.MaxPop.QueuesInterval = v.GetInt("maxPop.queues_inteval")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Protocol {
	case "http", "https":
	default:
		return fmt.Errorf("protocol must be http or https, got %q", c.Protocol)
	}
	switch c.FillMode {
	case FillModeDatastore, FillModeHTTP:
	default:
		return fmt.Errorf("fill_mode must be %s or %s, got %q", FillModeDatastore, FillModeHTTP, c.FillMode)
	}
	if _, err := runner.ParseFillErrorPolicy(c.FillErrors); err != nil {
		return err
	}
	if c.MaxPop.StartQueues < 1 {
		return fmt.Errorf("maxPop.start_queues must be at least 1, got %d", c.MaxPop.StartQueues)
	}
	if c.MaxPop.StartPayload < 0 {
		return fmt.Errorf("maxPop.start_payload must not be negative, got %d", c.MaxPop.StartPayload)
	}
	if c.FillMode == FillModeDatastore && c.Redis.Addr == "" {
		return errors.New("redis.addr is required with fill_mode datastore")
	}
	return c.Runner().Validate()
}

// Runner builds the controller configuration.
func (c Config) Runner() runner.Config {
	policy, _ := runner.ParseFillErrorPolicy(c.FillErrors)
	return runner.Config{
		Endpoints:   c.AgentsHosts,
		Slice:       c.Slice,
		OriginQueue: c.OriginQueue,
		Ramp: runner.Ramp{
			QueueStep:   c.MaxPop.QueuesInterval,
			MaxQueues:   c.MaxPop.MaxPops,
			PayloadStep: c.MaxPop.PayloadLengthInterval,
			MaxPayload:  c.MaxPop.MaxPayload,
		},
		Cooldown:     c.Cooldown,
		PopTimeout:   c.PopTimeout,
		PopRate:      c.PopRate,
		MaxInflight:  c.MaxInflight,
		ControllerID: c.ControllerID,
		FillErrors:   policy,
	}
}
