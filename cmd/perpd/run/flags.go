// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/luxfi/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/perpdex/utils/profiler"
)

const (
	envPrefix = "PERPD"

	ConfigFileKey      = "config-file"
	DBDirKey           = "db-dir"
	HTTPHostKey        = "http-host"
	HTTPPortKey        = "http-port"
	AllowedOriginsKey  = "http-allowed-origins"
	AllowedHostsKey    = "http-allowed-hosts"
	ReadHeaderKey      = "http-read-header-timeout"
	ShutdownTimeoutKey = "http-shutdown-timeout"
	GenesisFileKey     = "genesis-file"
	VMConfigFileKey    = "vm-config-file"
	BlockIntervalKey   = "block-interval"
	ProfileDirKey      = "profile-dir"
	ProfileEnabledKey  = "profile-continuous-enabled"
	ProfileFreqKey     = "profile-continuous-freq"
	ProfileMaxFilesKey = "profile-continuous-max-files"
	LogLevelKey        = "log-level"
)

var (
	errInvalidPort          = errors.New("invalid http port")
	errInvalidBlockInterval = errors.New("block interval must be positive")
)

func AddFlags(flags *pflag.FlagSet) {
	flags.String(ConfigFileKey, "", "Optional config file. Values in it are overridden by flags and PERPD_ env vars")
	flags.String(DBDirKey, "", "Database directory. An empty value keeps all state in memory")
	flags.String(HTTPHostKey, "127.0.0.1", "Address the API server listens on")
	flags.Uint(HTTPPortKey, 9660, "Port the API server listens on")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to make cross-origin API calls")
	flags.StringSlice(AllowedHostsKey, []string{"localhost"}, "Host headers the API server accepts")
	flags.Duration(ReadHeaderKey, 30*time.Second, "Maximum duration to read request headers")
	flags.Duration(ShutdownTimeoutKey, 10*time.Second, "Maximum duration to wait for in-flight requests on shutdown")
	flags.String(GenesisFileKey, "", "Genesis file. An empty value uses the default genesis")
	flags.String(VMConfigFileKey, "", "VM config file. An empty value uses the default VM config")
	flags.Duration(BlockIntervalKey, time.Second, "Interval between built blocks")
	flags.String(ProfileDirKey, "profiles", "Directory continuous profiles are written to")
	flags.Bool(ProfileEnabledKey, false, "Whether the node continuously writes CPU, memory and lock profiles")
	flags.Duration(ProfileFreqKey, 15*time.Minute, "Interval between continuous profiles")
	flags.Int(ProfileMaxFilesKey, 5, "Number of profiles of each kind to keep")
	flags.String(LogLevelKey, "info", "Lowest level written to stdout {off, fatal, error, warn, info, debug, verbo}")
}

type Config struct {
	DBDir             string
	HTTPHost          string
	HTTPPort          uint16
	AllowedOrigins    []string
	AllowedHosts      []string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	BlockInterval     time.Duration
	Profiler          profiler.Config
	LogLevel          log.Level

	// Nil means the default genesis.
	GenesisBytes []byte
	// Nil means the default VM config.
	VMConfigBytes []byte
}

// ParseFlags merges the flags with the environment and the optional config
// file, in decreasing order of precedence.
func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile := v.GetString(ConfigFileKey); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	port := v.GetUint(HTTPPortKey)
	if port > 1<<16-1 {
		return nil, fmt.Errorf("%w: %d", errInvalidPort, port)
	}
	blockInterval := v.GetDuration(BlockIntervalKey)
	if blockInterval <= 0 {
		return nil, fmt.Errorf("%w: %s", errInvalidBlockInterval, blockInterval)
	}

	profilerConfig := profiler.Config{
		Dir:         v.GetString(ProfileDirKey),
		Enabled:     v.GetBool(ProfileEnabledKey),
		Freq:        v.GetDuration(ProfileFreqKey),
		MaxNumFiles: v.GetInt(ProfileMaxFilesKey),
	}
	if err := profilerConfig.Verify(); err != nil {
		return nil, err
	}

	logLevel, err := log.ToLevel(v.GetString(LogLevelKey))
	if err != nil {
		return nil, err
	}

	genesisBytes, err := readOptionalFile(v.GetString(GenesisFileKey))
	if err != nil {
		return nil, err
	}
	vmConfigBytes, err := readOptionalFile(v.GetString(VMConfigFileKey))
	if err != nil {
		return nil, err
	}

	return &Config{
		DBDir:             v.GetString(DBDirKey),
		HTTPHost:          v.GetString(HTTPHostKey),
		HTTPPort:          uint16(port),
		AllowedOrigins:    v.GetStringSlice(AllowedOriginsKey),
		AllowedHosts:      v.GetStringSlice(AllowedHostsKey),
		ReadHeaderTimeout: v.GetDuration(ReadHeaderKey),
		ShutdownTimeout:   v.GetDuration(ShutdownTimeoutKey),
		BlockInterval:     blockInterval,
		Profiler:          profilerConfig,
		LogLevel:          logLevel,
		GenesisBytes:      genesisBytes,
		VMConfigBytes:     vmConfigBytes,
	}, nil
}

func readOptionalFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}
