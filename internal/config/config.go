// Package config reads server settings from flags, environment variables
// (POLLKV_<FLAG>) and .env files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/VoolFI71/pollkv/internal/hashmap"
)

const EnvPrefix = "pollkv"

const (
	EnginePoll = "poll"
	EngineGnet = "gnet"
)

type Config struct {
	Port        int
	Engine      string
	PollTimeout time.Duration
	TCPNoDelay  bool

	Hash          string
	RehashStep    int
	MaxLoadFactor int

	LogLevel    string
	LogFile     string
	MetricsAddr string
}

func Default() Config {
	return Config{
		Port:          1234,
		Engine:        EnginePoll,
		PollTimeout:   time.Second,
		TCPNoDelay:    true,
		Hash:          "fnv",
		RehashStep:    hashmap.DefaultStepBudget,
		MaxLoadFactor: hashmap.DefaultMaxLoadFactor,
		LogLevel:      "info",
	}
}

// RegisterFlags adds the server flags with their defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Int("port", d.Port, "TCP port to listen on (all interfaces)")
	fs.String("engine", d.Engine, "Event engine: poll or gnet")
	fs.Duration("poll-timeout", d.PollTimeout, "Upper bound on one readiness wait (poll engine)")
	fs.Bool("tcp-nodelay", d.TCPNoDelay, "Set TCP_NODELAY on accepted connections")
	fs.String("hash", d.Hash, "Key hash function: fnv or xxhash")
	fs.Int("rehash-step", d.RehashStep, "Migration work units per map operation while resizing")
	fs.Int("max-load-factor", d.MaxLoadFactor, "Average chain length that triggers a resize")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-file", d.LogFile, "Write logs to this file with rotation instead of stderr")
	fs.String("metrics-addr", d.MetricsAddr, "Serve Prometheus metrics on this address (empty disables)")
}

// LoadEnvFiles loads .env and .env.local when present. Variables already
// set in the environment win.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// NewViper returns a viper instance reading POLLKV_ environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load binds fs to v and reads a validated Config.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	c := &Config{
		Port:          v.GetInt("port"),
		Engine:        strings.ToLower(v.GetString("engine")),
		PollTimeout:   v.GetDuration("poll-timeout"),
		TCPNoDelay:    v.GetBool("tcp-nodelay"),
		Hash:          strings.ToLower(v.GetString("hash")),
		RehashStep:    v.GetInt("rehash-step"),
		MaxLoadFactor: v.GetInt("max-load-factor"),
		LogLevel:      v.GetString("log-level"),
		LogFile:       v.GetString("log-file"),
		MetricsAddr:   v.GetString("metrics-addr"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Engine != EnginePoll && c.Engine != EngineGnet {
		errs = append(errs, fmt.Errorf("invalid engine %q (expected poll or gnet)", c.Engine))
	}
	if c.PollTimeout < time.Millisecond {
		errs = append(errs, fmt.Errorf("poll-timeout %s below 1ms", c.PollTimeout))
	}
	if _, ok := hashmap.HasherByName(c.Hash); !ok {
		errs = append(errs, fmt.Errorf("invalid hash %q (expected fnv or xxhash)", c.Hash))
	}
	if c.RehashStep < 1 {
		errs = append(errs, fmt.Errorf("rehash-step must be positive, got %d", c.RehashStep))
	}
	if c.MaxLoadFactor < 1 {
		errs = append(errs, fmt.Errorf("max-load-factor must be positive, got %d", c.MaxLoadFactor))
	}
	return errors.Join(errs...)
}

// MapOptions translates the table settings into hashmap options.
func (c *Config) MapOptions() []hashmap.Option {
	h, _ := hashmap.HasherByName(c.Hash)
	return []hashmap.Option{
		hashmap.WithHasher(h),
		hashmap.WithStepBudget(c.RehashStep),
		hashmap.WithMaxLoadFactor(c.MaxLoadFactor),
	}
}

func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Port", fmt.Sprintf("%d", c.Port))
	addField("Engine", c.Engine)
	if c.Engine == EnginePoll {
		addField("Poll Timeout", c.PollTimeout.String())
	}
	addField("TCP No Delay", fmt.Sprintf("%t", c.TCPNoDelay))

	addSection("Hash Table")
	addField("Hash", c.Hash)
	addField("Rehash Step", fmt.Sprintf("%d", c.RehashStep))
	addField("Max Load Factor", fmt.Sprintf("%d", c.MaxLoadFactor))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.LogFile != "" {
		addField("Log File", c.LogFile)
	}

	addSection("Metrics")
	if c.MetricsAddr == "" {
		addField("Address", "disabled")
	} else {
		addField("Address", c.MetricsAddr)
	}

	return sb.String()
}
