// Package config resolves the engine's configuration from CLI flags,
// environment variables, and an optional TOML config file, in that
// order of precedence, and turns the merged result into the typed
// Config the engine and its drivers are built from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LocalIndexConfig holds the connection details for the relational
// LocalIndex backend.
type LocalIndexConfig struct {
	Engine   string `toml:"engine"`          // "sqlite" or "postgres"
	Path     string `toml:"path,omitempty"`  // sqlite file path
	User     string `toml:"user,omitempty"`
	Password string `toml:"password,omitempty"`
	Host     string `toml:"host,omitempty"`
	DB       string `toml:"db,omitempty"`
}

// Config is the fully resolved, boundary-layer-constructed value the
// engine and its drivers are built from. Nothing downstream of this
// point re-reads flags, environment, or config files.
type Config struct {
	TargetDir          string           `toml:"target_dir"`
	BucketName         string           `toml:"bucket_name"`
	DynamoTable        string           `toml:"dynamo_table"`
	Filters            []string         `toml:"filters,omitempty"`
	DryRun             bool             `toml:"dry_run"`
	MinStorageDuration int              `toml:"min_storage_duration"` // days
	LogLevel           string           `toml:"log_level"`
	LogDir             string           `toml:"log_dir,omitempty"`
	AWSRegion          string           `toml:"aws_region"`
	RemotePoolSize     int              `toml:"remote_pool_size"`
	LocalIndex         LocalIndexConfig `toml:"local_index"`
}

// bindings lists every flag this engine accepts, the environment
// variable it's bound to per §6, and its default. CLI > env > file >
// default is enforced by viper automatically once flags are bound with
// BindPFlag (highest priority) and BindEnv (next), leaving
// SetDefault as the fallback.
type binding struct {
	flag    string
	env     string
	key     string
	usage   string
	isSlice bool
	isBool  bool
	isInt   bool
	def     any
}

var bindings = []binding{
	{flag: "target-dir", env: "TARGET_DIR", key: "target_dir", usage: "directory to back up or restore into", def: "."},
	{flag: "bucket-name", env: "BUCKET_NAME", key: "bucket_name", usage: "cold object store bucket name"},
	{flag: "dynamo-table", env: "DYNAMO_TABLE", key: "dynamo_table", usage: "RemoteIndex table name"},
	{flag: "filter", env: "FILTER", key: "filter", usage: "regex of paths to exclude (repeatable)", isSlice: true},
	{flag: "dry-run", env: "DRY_RUN", key: "dry_run", usage: "log intended actions without mutating any store", isBool: true, def: false},
	{flag: "min-storage-duration", env: "MIN_STORAGE_DURATION", key: "min_storage_duration", usage: "days a blob must live before early-deletion is safe", isInt: true, def: 90},
	{flag: "log-level", env: "LOG_LEVEL", key: "log_level", usage: "debug, info, warn, or error", def: "info"},
	{flag: "log-dir", env: "LOG_DIR", key: "log_dir", usage: "directory for the plain-text operation log (empty disables file logging)"},
	{flag: "aws-region", env: "AWS_REGION", key: "aws_region", usage: "AWS region for S3 and DynamoDB"},
	{flag: "remote-pool-size", env: "REMOTE_POOL_SIZE", key: "remote_pool_size", usage: "max concurrent RemoteIndex/BlobStore calls", isInt: true, def: 8},
	{flag: "db-engine", env: "DB_ENGINE", key: "db_engine", usage: "sqlite or postgres", def: "sqlite"},
	{flag: "db-path", env: "DB_PATH", key: "db_path", usage: "sqlite database file path", def: "coldbackup.db"},
	{flag: "db-user", env: "POSTGRES_USER", key: "db_user", usage: "postgres user"},
	{flag: "db-password", env: "POSTGRES_PASSWORD", key: "db_password", usage: "postgres password"},
	{flag: "db-host", env: "POSTGRES_HOST", key: "db_host", usage: "postgres host"},
	{flag: "db-name", env: "POSTGRES_DB", key: "db_name", usage: "postgres database name"},
}

// BindFlags registers every engine flag on cmd and wires it into v with
// the precedence config.Load relies on. The flags are persistent so
// cobra carries them down into every subcommand's parsed flag set; call
// this once on the root command.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	for _, b := range bindings {
		switch {
		case b.isSlice:
			flags.StringSlice(b.flag, nil, b.usage)
		case b.isBool:
			def, _ := b.def.(bool)
			flags.Bool(b.flag, def, b.usage)
		case b.isInt:
			def, _ := b.def.(int)
			flags.Int(b.flag, def, b.usage)
		default:
			def, _ := b.def.(string)
			flags.String(b.flag, def, b.usage)
		}

		if err := v.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			return fmt.Errorf("binding flag %s: %w", b.flag, err)
		}
		if err := v.BindEnv(b.key, b.env); err != nil {
			return fmt.Errorf("binding env %s: %w", b.env, err)
		}
		if b.def != nil {
			v.SetDefault(b.key, b.def)
		}
	}
	return nil
}

// Load reads configFile (if non-empty) into v and merges it in at the
// "config file" precedence tier, below flags and environment, then
// decodes the merged result into a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		TargetDir:          v.GetString("target_dir"),
		BucketName:         v.GetString("bucket_name"),
		DynamoTable:        v.GetString("dynamo_table"),
		Filters:            splitFilters(v.GetStringSlice("filter")),
		DryRun:             v.GetBool("dry_run"),
		MinStorageDuration: v.GetInt("min_storage_duration"),
		LogLevel:           v.GetString("log_level"),
		LogDir:             v.GetString("log_dir"),
		AWSRegion:          v.GetString("aws_region"),
		RemotePoolSize:     v.GetInt("remote_pool_size"),
		LocalIndex: LocalIndexConfig{
			Engine:   v.GetString("db_engine"),
			Path:     v.GetString("db_path"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Host:     v.GetString("db_host"),
			DB:       v.GetString("db_name"),
		},
	}

	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket-name is required")
	}
	if cfg.DynamoTable == "" {
		return nil, fmt.Errorf("dynamo-table is required")
	}

	return cfg, nil
}

// Default returns a starter Config with every flag default set and the
// required fields filled with obvious placeholders, for `config init` to
// write out as a plain, uncommented TOML file ready to edit.
func Default() *Config {
	return &Config{
		TargetDir:          ".",
		BucketName:         "my-coldbackup-bucket",
		DynamoTable:        "my-coldbackup-index",
		MinStorageDuration: 90,
		LogLevel:           "info",
		RemotePoolSize:     8,
		LocalIndex:         LocalIndexConfig{Engine: "sqlite", Path: "coldbackup.db"},
	}
}

// WriteDefault writes cfg to path as TOML, refusing to overwrite an
// existing file.
func WriteDefault(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// splitFilters additionally honors a FILTER_DELIMITER-joined single
// string (the case where FILTER came from a single environment
// variable holding several patterns), in addition to the StringSlice
// flag's own repeat-the-flag form. The delimiter defaults to a comma
// when FILTER_DELIMITER is unset.
func splitFilters(raw []string) []string {
	delim := os.Getenv("FILTER_DELIMITER")
	if delim == "" {
		delim = ","
	}
	var out []string
	for _, r := range raw {
		if strings.Contains(r, delim) {
			for _, part := range strings.Split(r, delim) {
				part = strings.TrimSpace(part)
				if part != "" {
					out = append(out, part)
				}
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
