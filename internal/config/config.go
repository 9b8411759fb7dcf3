package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type configKey struct{}
type contextValue struct {
	Config Config
}

// Global configuration
type Config struct {
	// Seccomp toggles the syscall filter. Disabling it is
	// only useful when debugging under a tracer that seccomp-bpf would kill.
	Seccomp bool `mapstructure:"seccomp"`

	// MultiarchDefault is the default --allow=multiarch value when the
	// launched app doesn't request it explicitly.
	MultiarchDefault bool `mapstructure:"multiarch_default"`

	// DryRun composes and prints the bwrap argv without exec'ing it.
	DryRun bool `mapstructure:"dry_run"`

	// Background spawns the sandbox detached instead of replacing the
	// launcher's process image.
	Background bool `mapstructure:"background"`

	// Verbose enables debug-level structured logging across the launcher.
	Verbose bool `mapstructure:"verbose"`

	// LdCacheDir overrides the default content-addressed ld.so.cache
	// directory (the app's own .ld.so/ directory, or the user cache dir).
	LdCacheDir string `mapstructure:"ld_cache_dir"`

	// TrustedRefs allows bypassing the untrusted-ref warning for specific
	// app/runtime refs the operator has already vetted.
	TrustedRefs TrustedRef `mapstructure:"trusted_refs"`
}

type TrustedRef struct {
	// Ref is an app or runtime ref, e.g. app/com.example.App/x86_64/stable.
	Ref []string `mapstructure:"refs"`
}

var (
	setupOnce sync.Once
	setupErr  error
)

// ErrConfigAlreadyExists is returned when creating the config without force and it already exists.
var ErrConfigAlreadyExists = errors.New("launchd config already exists")

// DefaultConfig returns the canonical default configuration used by the launcher.
func DefaultConfig() Config {
	return Config{
		Seccomp:          true,
		MultiarchDefault: false,
		DryRun:           false,
		Background:       false,
		Verbose:          false,
		LdCacheDir:       "",
		TrustedRefs:      TrustedRef{Ref: []string{}},
	}
}

func Load(fs *pflag.FlagSet) (Config, error) {
	if err := ensureViperConfigured(); err != nil {
		return Config{}, err
	}

	// Bind CLI flags so they override config/env
	bindFlags(fs)

	// Read the config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// CreateConfig writes the launcher config file and returns its absolute path.
func CreateConfig() (string, error) {
	if _, err := createConfigDir(); err != nil {
		return "", err
	}

	cfgFile, err := ConfigFilePath()
	if err != nil {
		return "", err
	}

	writer := viper.New()
	writer.SetConfigType(launchdConfigType)

	defaults := DefaultConfig()
	if err := writer.MergeConfigMap(configAsMap(defaults)); err != nil {
		return "", fmt.Errorf("failed to prepare default config: %w", err)
	}

	writeErr := writer.SafeWriteConfigAs(cfgFile)

	if writeErr != nil {
		var alreadyExistsErr viper.ConfigFileAlreadyExistsError
		if errors.As(writeErr, &alreadyExistsErr) {
			return cfgFile, ErrConfigAlreadyExists
		}
		return "", fmt.Errorf("error writing config file: %w", writeErr)
	}

	if err := ensureViperConfigured(); err == nil {
		for key, value := range configAsMap(defaults) {
			viper.Set(key, value)
		}
	}

	return cfgFile, nil
}

// RemoveConfig removes the launcher's configuration directory and its contents.
func RemoveConfig() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove config directory %s: %w", dir, err)
	}
	return nil
}

// Inject config into context while protecting against context poisoning
func (c Config) Inject(ctx context.Context) context.Context {
	return context.WithValue(ctx, configKey{}, &contextValue{Config: c})
}

// Extract config from context
func FromContext(ctx context.Context) (Config, error) {
	c, ok := ctx.Value(configKey{}).(*contextValue)
	if !ok {
		return Config{}, fmt.Errorf("config not found in context")
	}

	return c.Config, nil
}

func ensureViperConfigured() error {
	setupOnce.Do(func() {
		dir, err := ConfigDir()
		if err != nil {
			setupErr = err
			return
		}

		v := viper.GetViper()
		v.SetConfigName(launchdConfigName)
		v.SetConfigType(launchdConfigType)
		v.AddConfigPath(dir)

		v.SetEnvPrefix("LAUNCHD")
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()

		for key, value := range configAsMap(DefaultConfig()) {
			v.SetDefault(key, value)
		}
	})

	return setupErr
}

func bindFlags(fs *pflag.FlagSet) {
	if fs == nil {
		return
	}

	// Helper binds a flag if it exists
	bind := func(key, flag string) {
		if f := fs.Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}

	bind("seccomp", "seccomp")
	bind("multiarch_default", "multiarch-default")
	bind("dry_run", "dry-run")
	bind("background", "background")
	bind("verbose", "verbose")
	bind("ld_cache_dir", "ld-cache-dir")
}

// Helper function to map the provided config for setting key/values in viper
func configAsMap(cfg Config) map[string]any {
	return map[string]any{
		"seccomp":            cfg.Seccomp,
		"multiarch_default":  cfg.MultiarchDefault,
		"dry_run":            cfg.DryRun,
		"background":         cfg.Background,
		"verbose":            cfg.Verbose,
		"ld_cache_dir":       cfg.LdCacheDir,
		"trusted_refs":       cfg.TrustedRefs,
	}
}
