// Package config loads socks5gate's runtime configuration: the two
// listen addresses, shared-state capacities, and the ADMIN seed
// credential (spec.md §6). It layers github.com/spf13/viper over the
// teacher's YAML file format, generalized from the teacher's
// single-purpose LoadConfig into a Viper-backed loader that also reads
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully resolved, validated configuration.
type Config struct {
	SOCKS5ListenAddr string `mapstructure:"socks5_listen_addr"`
	MgmtListenAddr   string `mapstructure:"mgmt_listen_addr"`

	AccessLogCapacity int `mapstructure:"access_log_capacity"`
	UserTableCapacity int `mapstructure:"user_table_capacity"`
	InitialChunkCap   int `mapstructure:"initial_chunk_cap"`

	// AdminUser and AdminPass seed the user table at startup, parsed
	// from the ADMIN environment variable (spec.md §6: "user:pass").
	// Both are empty when ADMIN is unset, in which case the table
	// starts empty.
	AdminUser string
	AdminPass string
}

const (
	defaultSOCKS5ListenAddr = ":1080"
	defaultMgmtListenAddr   = ":1081"
	defaultAccessLogCap     = 256
	defaultUserTableCap     = 64
	defaultChunkCap         = 4096
)

// envPrefix namespaces every bound environment variable except ADMIN,
// which spec.md §6 names verbatim and which Load binds separately.
const envPrefix = "SOCKS5GATE"

// Load reads configuration from path (a YAML file, optional — a
// missing file falls back to defaults and environment overrides),
// environment variables prefixed SOCKS5GATE_, and the bare ADMIN
// variable, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("socks5_listen_addr", defaultSOCKS5ListenAddr)
	v.SetDefault("mgmt_listen_addr", defaultMgmtListenAddr)
	v.SetDefault("access_log_capacity", defaultAccessLogCap)
	v.SetDefault("user_table_capacity", defaultUserTableCap)
	v.SetDefault("initial_chunk_cap", defaultChunkCap)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"socks5_listen_addr",
		"mgmt_listen_addr",
		"access_log_capacity",
		"user_table_capacity",
		"initial_chunk_cap",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if raw, ok := os.LookupEnv("ADMIN"); ok && raw != "" {
		user, pass, ok := splitAdmin(raw)
		if !ok {
			return nil, fmt.Errorf("config: ADMIN must be formatted user:pass")
		}
		cfg.AdminUser, cfg.AdminPass = user, pass
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SOCKS5ListenAddr == "" {
		return fmt.Errorf("config: socks5_listen_addr is required")
	}
	if c.MgmtListenAddr == "" {
		return fmt.Errorf("config: mgmt_listen_addr is required")
	}
	if c.SOCKS5ListenAddr == c.MgmtListenAddr {
		return fmt.Errorf("config: socks5_listen_addr and mgmt_listen_addr must differ")
	}
	if c.AccessLogCapacity <= 0 {
		return fmt.Errorf("config: access_log_capacity must be positive")
	}
	if c.UserTableCapacity <= 0 {
		return fmt.Errorf("config: user_table_capacity must be positive")
	}
	if c.InitialChunkCap <= 0 || c.InitialChunkCap > 65535 {
		return fmt.Errorf("config: initial_chunk_cap must be in (0, 65535]")
	}
	return nil
}

func splitAdmin(raw string) (user, pass string, ok bool) {
	idx := strings.IndexByte(raw, ':')
	if idx == -1 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}
