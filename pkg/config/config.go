// Package config loads client and local ledger settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/AlysCarillo/solana-polling-station/pkg/rpc"
	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// EnvPrefix prefixes every environment variable the package reads.
const EnvPrefix = "POLLS"

// Keys, without the prefix.
const (
	KeyProgramID         = "PROGRAM_ID"
	KeyRPCEndpoint       = "RPC_ENDPOINT"
	KeyCommitment        = "COMMITMENT"
	KeyKeypair           = "KEYPAIR"
	KeyRPCTimeout        = "RPC_TIMEOUT"
	KeyAccountEncoding   = "ACCOUNT_ENCODING"
	KeyConfirmInterval   = "CONFIRM_INTERVAL"
	KeyLogLevel          = "LOG_LEVEL"
	KeyLocalnetAddress   = "LOCALNET_ADDRESS"
	KeyLocalnetDataDir   = "LOCALNET_DATA_DIR"
	KeyLocalnetRateRPS   = "LOCALNET_RATE_LIMIT_RPS"
	KeyLocalnetRateBurst = "LOCALNET_RATE_LIMIT_BURST"
)

// DefaultRPCEndpoint is the public devnet endpoint.
const DefaultRPCEndpoint = "https://api.devnet.solana.com"

// ConfigError reports a missing or malformed setting.
type ConfigError struct {
	Key   string // environment variable name
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config: %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrRequired is wrapped by a ConfigError for a missing required setting.
var ErrRequired = errors.New("required setting is not set")

// Config holds every setting of the client and the local ledger.
type Config struct {
	ProgramID       types.Pubkey
	RPCEndpoint     string
	Commitment      types.Commitment
	KeypairPath     string
	RPCTimeout      time.Duration
	AccountEncoding string
	ConfirmInterval time.Duration
	LogLevel        slog.Level
	Localnet        LocalnetConfig
}

// LocalnetConfig configures the local ledger server.
type LocalnetConfig struct {
	Address        string
	DataDir        string // empty keeps accounts in memory
	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadOptions controls Load.
type LoadOptions struct {
	// EnvFile is read into the process environment first when it exists.
	// Variables already set are not overridden.
	EnvFile string
}

func env(key string) string {
	return EnvPrefix + "_" + key
}

// Load reads the configuration. A missing program id is not an error here;
// call Validate before using the result against a ledger.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(KeyRPCEndpoint, DefaultRPCEndpoint)
	v.SetDefault(KeyCommitment, string(types.CommitmentConfirmed))
	v.SetDefault(KeyKeypair, defaultKeypairPath())
	v.SetDefault(KeyRPCTimeout, rpc.DefaultTimeout)
	v.SetDefault(KeyAccountEncoding, rpc.EncodingBase64)
	v.SetDefault(KeyConfirmInterval, 500*time.Millisecond)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLocalnetAddress, "127.0.0.1:8899")
	v.SetDefault(KeyLocalnetRateRPS, 100.0)
	v.SetDefault(KeyLocalnetRateBurst, 200)

	cfg := &Config{
		RPCEndpoint:     v.GetString(KeyRPCEndpoint),
		KeypairPath:     expandHome(v.GetString(KeyKeypair)),
		AccountEncoding: v.GetString(KeyAccountEncoding),
		Localnet: LocalnetConfig{
			Address:        v.GetString(KeyLocalnetAddress),
			DataDir:        v.GetString(KeyLocalnetDataDir),
			RateLimitRPS:   v.GetFloat64(KeyLocalnetRateRPS),
			RateLimitBurst: v.GetInt(KeyLocalnetRateBurst),
		},
	}

	if raw := strings.TrimSpace(v.GetString(KeyProgramID)); raw != "" {
		pk, err := types.PubkeyFromBase58(raw)
		if err != nil {
			return nil, &ConfigError{Key: env(KeyProgramID), Value: raw, Err: err}
		}
		cfg.ProgramID = pk
	}

	commitment, err := types.ParseCommitment(v.GetString(KeyCommitment))
	if err != nil {
		return nil, &ConfigError{Key: env(KeyCommitment), Value: v.GetString(KeyCommitment), Err: err}
	}
	cfg.Commitment = commitment

	if cfg.RPCTimeout, err = duration(v, KeyRPCTimeout); err != nil {
		return nil, err
	}
	if cfg.ConfirmInterval, err = duration(v, KeyConfirmInterval); err != nil {
		return nil, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, &ConfigError{Key: env(KeyLogLevel), Value: v.GetString(KeyLogLevel), Err: err}
	}

	return cfg, nil
}

// duration parses a duration setting. viper's GetDuration silently yields
// zero for garbage, so the raw string is parsed here.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	switch raw := v.Get(key).(type) {
	case time.Duration:
		return raw, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return 0, &ConfigError{Key: env(key), Value: raw, Err: err}
		}
		return d, nil
	default:
		return v.GetDuration(key), nil
	}
}

// Validate checks the settings needed to talk to a ledger.
func (c *Config) Validate() error {
	if c.ProgramID.IsZero() {
		return &ConfigError{Key: env(KeyProgramID), Err: ErrRequired}
	}
	if c.RPCEndpoint == "" {
		return &ConfigError{Key: env(KeyRPCEndpoint), Err: ErrRequired}
	}
	if err := rpc.ValidateEncoding(c.AccountEncoding); err != nil || c.AccountEncoding == rpc.EncodingBase58 {
		return &ConfigError{Key: env(KeyAccountEncoding), Value: c.AccountEncoding,
			Err: fmt.Errorf("must be %s or %s", rpc.EncodingBase64, rpc.EncodingBase64Zstd)}
	}
	if c.RPCTimeout <= 0 {
		return &ConfigError{Key: env(KeyRPCTimeout), Value: c.RPCTimeout.String(), Err: errors.New("must be positive")}
	}
	if c.ConfirmInterval <= 0 {
		return &ConfigError{Key: env(KeyConfirmInterval), Value: c.ConfirmInterval.String(), Err: errors.New("must be positive")}
	}
	return nil
}

func defaultKeypairPath() string {
	return filepath.Join("~", ".config", "solana", "id.json")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
