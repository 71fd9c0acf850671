package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	c, err := Load(NewViper(), newFlags(t))
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, &want, c)
	assert.Equal(t, 1234, c.Port)
	assert.Equal(t, EnginePoll, c.Engine)
	assert.Equal(t, time.Second, c.PollTimeout)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	c, err := Load(NewViper(), newFlags(t,
		"--port", "7000",
		"--engine", "GNET",
		"--hash", "xxhash",
		"--poll-timeout", "250ms",
		"--tcp-nodelay=false",
	))
	require.NoError(t, err)
	assert.Equal(t, 7000, c.Port)
	assert.Equal(t, EngineGnet, c.Engine)
	assert.Equal(t, "xxhash", c.Hash)
	assert.Equal(t, 250*time.Millisecond, c.PollTimeout)
	assert.False(t, c.TCPNoDelay)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("POLLKV_PORT", "4321")
	t.Setenv("POLLKV_REHASH_STEP", "16")
	t.Setenv("POLLKV_METRICS_ADDR", "127.0.0.1:9100")

	c, err := Load(NewViper(), newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 4321, c.Port)
	assert.Equal(t, 16, c.RehashStep)
	assert.Equal(t, "127.0.0.1:9100", c.MetricsAddr)

	// explicit flags beat the environment
	c, err = Load(NewViper(), newFlags(t, "--port", "1"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		msg    string
	}{
		{"port", func(c *Config) { c.Port = 70000 }, "port"},
		{"engine", func(c *Config) { c.Engine = "epoll" }, "engine"},
		{"hash", func(c *Config) { c.Hash = "crc" }, "hash"},
		{"poll timeout", func(c *Config) { c.PollTimeout = 0 }, "poll-timeout"},
		{"rehash step", func(c *Config) { c.RehashStep = 0 }, "rehash-step"},
		{"load factor", func(c *Config) { c.MaxLoadFactor = -1 }, "max-load-factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	c := Default()
	assert.NoError(t, c.Validate())
}

func TestMapOptions(t *testing.T) {
	c := Default()
	assert.Len(t, c.MapOptions(), 3)
}

func TestString(t *testing.T) {
	c := Default()
	s := c.String()
	assert.Contains(t, s, "SERVER")
	assert.Contains(t, s, "HASH TABLE")
	assert.Contains(t, s, "1234")
	assert.Contains(t, s, "disabled")
}
