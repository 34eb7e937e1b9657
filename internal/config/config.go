package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// GlobalFlags carries the raw persistent flag values from the CLI. Load
// folds them over the file and environment layers.
type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Timeout     string
	Attempts    int
	SlippageBps int
	Threshold   string
	RPCURL      string
	NoCache     bool
	LogLevel    string
}

type Settings struct {
	OutputMode        string
	LogLevel          string
	Timeout           time.Duration
	Attempts          int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	SlippageBps       int
	ApprovalThreshold decimal.Decimal
	CacheEnabled      bool
	CachePath         string
	CacheLockPath     string
	PlanStorePath     string
	PlanLockPath      string
	SwapBaseURL       string
	PriceBaseURL      string
	JupiterAPIKey     string
	SolanaRPCURL      string
	HeliusAPIKey      string
	EVMChainID        int64
	EVMRPCURL         string
}

type fileConfig struct {
	Output            string `yaml:"output"`
	LogLevel          string `yaml:"log_level"`
	Timeout           string `yaml:"timeout"`
	Attempts          *int   `yaml:"attempts"`
	SlippageBps       *int   `yaml:"slippage_bps"`
	ApprovalThreshold string `yaml:"approval_threshold"`
	Backoff           struct {
		Base string `yaml:"base"`
		Cap  string `yaml:"cap"`
	} `yaml:"backoff"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Plans struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"plans"`
	Solana struct {
		RPCURL          string `yaml:"rpc_url"`
		HeliusAPIKey    string `yaml:"helius_api_key"`
		HeliusAPIKeyEnv string `yaml:"helius_api_key_env"`
	} `yaml:"solana"`
	EVM struct {
		ChainID *int64 `yaml:"chain_id"`
		RPCURL  string `yaml:"rpc_url"`
	} `yaml:"evm"`
	Jupiter struct {
		SwapURL   string `yaml:"swap_url"`
		PriceURL  string `yaml:"price_url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"jupiter"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Attempts < 1 {
		settings.Attempts = 1
	}
	if settings.BackoffBase <= 0 {
		settings.BackoffBase = time.Second
	}
	if settings.BackoffCap < settings.BackoffBase {
		settings.BackoffCap = settings.BackoffBase
	}
	if settings.SlippageBps < 0 {
		settings.SlippageBps = 0
	}
	if settings.ApprovalThreshold.IsNegative() {
		return Settings{}, fmt.Errorf("approval threshold must not be negative")
	}
	if settings.EVMChainID <= 0 {
		settings.EVMChainID = 1
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cacheDir, err := defaultCacheDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:        "json",
		LogLevel:          "warn",
		Timeout:           30 * time.Second,
		Attempts:          3,
		BackoffBase:       time.Second,
		BackoffCap:        10 * time.Second,
		SlippageBps:       50,
		ApprovalThreshold: decimal.NewFromInt(100),
		CacheEnabled:      true,
		CachePath:         filepath.Join(cacheDir, "cache.db"),
		CacheLockPath:     filepath.Join(cacheDir, "cache.lock"),
		PlanStorePath:     filepath.Join(cacheDir, "plans.db"),
		PlanLockPath:      filepath.Join(cacheDir, "plans.lock"),
		EVMChainID:        1,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swapplan", "config.yaml"), nil
}

func defaultCacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "swapplan"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Attempts != nil {
		settings.Attempts = *cfg.Attempts
	}
	if cfg.SlippageBps != nil {
		settings.SlippageBps = *cfg.SlippageBps
	}
	if cfg.ApprovalThreshold != "" {
		v, err := decimal.NewFromString(cfg.ApprovalThreshold)
		if err != nil {
			return fmt.Errorf("config approval_threshold: %w", err)
		}
		settings.ApprovalThreshold = v
	}
	if cfg.Backoff.Base != "" {
		d, err := time.ParseDuration(cfg.Backoff.Base)
		if err != nil {
			return fmt.Errorf("config backoff.base: %w", err)
		}
		settings.BackoffBase = d
	}
	if cfg.Backoff.Cap != "" {
		d, err := time.ParseDuration(cfg.Backoff.Cap)
		if err != nil {
			return fmt.Errorf("config backoff.cap: %w", err)
		}
		settings.BackoffCap = d
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Plans.Path != "" {
		settings.PlanStorePath = cfg.Plans.Path
	}
	if cfg.Plans.LockPath != "" {
		settings.PlanLockPath = cfg.Plans.LockPath
	}
	if cfg.Solana.RPCURL != "" {
		settings.SolanaRPCURL = cfg.Solana.RPCURL
	}
	if cfg.Solana.HeliusAPIKey != "" {
		settings.HeliusAPIKey = cfg.Solana.HeliusAPIKey
	}
	if cfg.Solana.HeliusAPIKeyEnv != "" {
		settings.HeliusAPIKey = os.Getenv(cfg.Solana.HeliusAPIKeyEnv)
	}
	if cfg.EVM.ChainID != nil {
		settings.EVMChainID = *cfg.EVM.ChainID
	}
	if cfg.EVM.RPCURL != "" {
		settings.EVMRPCURL = cfg.EVM.RPCURL
	}
	if cfg.Jupiter.SwapURL != "" {
		settings.SwapBaseURL = cfg.Jupiter.SwapURL
	}
	if cfg.Jupiter.PriceURL != "" {
		settings.PriceBaseURL = cfg.Jupiter.PriceURL
	}
	if cfg.Jupiter.APIKey != "" {
		settings.JupiterAPIKey = cfg.Jupiter.APIKey
	}
	if cfg.Jupiter.APIKeyEnv != "" {
		settings.JupiterAPIKey = os.Getenv(cfg.Jupiter.APIKeyEnv)
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SWAPPLAN_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPPLAN_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPPLAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SWAPPLAN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Attempts = n
		}
	}
	if v := os.Getenv("SWAPPLAN_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("SWAPPLAN_APPROVAL_THRESHOLD"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			settings.ApprovalThreshold = d
		}
	}
	if v := os.Getenv("SWAPPLAN_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("SWAPPLAN_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("SWAPPLAN_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("SWAPPLAN_PLANS_PATH"); v != "" {
		settings.PlanStorePath = v
	}
	if v := os.Getenv("SWAPPLAN_PLANS_LOCK_PATH"); v != "" {
		settings.PlanLockPath = v
	}
	if v := os.Getenv("SWAPPLAN_SOLANA_RPC_URL"); v != "" {
		settings.SolanaRPCURL = v
	}
	if v := os.Getenv("SWAPPLAN_HELIUS_API_KEY"); v != "" {
		settings.HeliusAPIKey = v
	}
	if v := os.Getenv("SWAPPLAN_EVM_RPC_URL"); v != "" {
		settings.EVMRPCURL = v
	}
	if v := os.Getenv("SWAPPLAN_EVM_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.EVMChainID = n
		}
	}
	if v := os.Getenv("SWAPPLAN_SWAP_URL"); v != "" {
		settings.SwapBaseURL = v
	}
	if v := os.Getenv("SWAPPLAN_PRICE_URL"); v != "" {
		settings.PriceBaseURL = v
	}
	if v := os.Getenv("SWAPPLAN_JUPITER_API_KEY"); v != "" {
		settings.JupiterAPIKey = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Attempts > 0 {
		settings.Attempts = flags.Attempts
	}
	if flags.SlippageBps >= 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.Threshold != "" {
		v, err := decimal.NewFromString(flags.Threshold)
		if err != nil {
			return fmt.Errorf("parse --approval-threshold: %w", err)
		}
		settings.ApprovalThreshold = v
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.SolanaRPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
