package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default reserved directory names under the migration root. These hold
// shared tooling assets and are never treated as customer drops.
var DefaultReservedDirs = []string{
	"Templates",
	"Transformations",
	"MappingFixedAllowances",
}

// Default password sidecar file names, first found wins.
var DefaultPasswordFiles = []string{"PW.txt", "PW.txt.txt"}

const (
	DefaultPropertiesFile = "config.properties"
	DefaultParametersFile = "MigVisma_parameters.xlsx"
	DefaultKitchenScript  = "Kitchen.bat"
	DefaultLauncherScript = "MigrationTool_Robot.bat"
	DefaultCountersFile   = "Counters.csv"

	DefaultSFTPProdFolder = "robot_files"
	DefaultSFTPTestFolder = "robot_test_files"
)

// Retry describes a bounded retry budget with a fixed delay before each attempt.
type Retry struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// ExtractionConfig controls the progress check run against the first archive.
type ExtractionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollRetries  int           `mapstructure:"poll_retries"`
}

// ReconcileConfig holds the tunables of the reconciliation checkpoints.
type ReconcileConfig struct {
	// RowsPerMove is the number of cmd move rows the script emits per DOCS file.
	RowsPerMove int `mapstructure:"rows_per_move"`
	// ExtraArtifacts is the number of non-document files the external tool
	// deposits next to the e-dossiers, keyed by migration type.
	ExtraArtifacts     map[string]int `mapstructure:"extra_artifacts"`
	MLMLossTolerance   int            `mapstructure:"mlm_loss_tolerance"`
	MLMNotFoundAllowed int            `mapstructure:"mlm_not_found_allowed"`
}

// RenameConfig holds the retry budgets of the directory lifecycle renames.
type RenameConfig struct {
	CustomerRoot Retry            `mapstructure:"customer_root"`
	Dossier      map[string]Retry `mapstructure:"dossier"`
}

// SFTPConfig describes the delivery server.
type SFTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	HostKey         string        `mapstructure:"host_key"`
	CredentialsItem string        `mapstructure:"credentials_item"`
	ProdFolder      string        `mapstructure:"prod_folder"`
	TestFolder      string        `mapstructure:"test_folder"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// SlackConfig describes the chat notification target.
type SlackConfig struct {
	CredentialsItem string `mapstructure:"credentials_item"`
	Channel         string `mapstructure:"channel"`
}

// Config holds application settings
type Config struct {
	MigRoot        string   `mapstructure:"mig_root"`
	PentahoDir     string   `mapstructure:"pentaho_dir"`
	KitchenScript  string   `mapstructure:"kitchen_script"`
	LauncherScript string   `mapstructure:"launcher_script"`
	SevenZipPath   string   `mapstructure:"seven_zip_path"`
	ReservedDirs   []string `mapstructure:"reserved_dirs"`
	PropertiesFile string   `mapstructure:"properties_file"`
	ParametersFile string   `mapstructure:"parameters_file"`
	PasswordFiles  []string `mapstructure:"password_files"`
	CountersFile   string   `mapstructure:"counters_file"`

	DbPath          string `mapstructure:"db_path"`
	OutputDir       string `mapstructure:"output_dir"`
	CredentialsFile string `mapstructure:"credentials_file"`
	PushgatewayURL  string `mapstructure:"pushgateway_url"`

	Extraction ExtractionConfig `mapstructure:"extraction"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Rename     RenameConfig     `mapstructure:"rename"`
	SFTP       SFTPConfig       `mapstructure:"sftp"`
	Slack      SlackConfig      `mapstructure:"slack"`
}

// Default returns the configuration the robot runs with when no file or
// environment overrides are present.
func Default() Config {
	return Config{
		MigRoot:        `D:\MigVisma`,
		PentahoDir:     `C:\Pentaho\data-integration`,
		KitchenScript:  DefaultKitchenScript,
		LauncherScript: DefaultLauncherScript,
		SevenZipPath:   `C:\Program Files\7-Zip\7z.exe`,
		ReservedDirs:   append([]string(nil), DefaultReservedDirs...),
		PropertiesFile: DefaultPropertiesFile,
		ParametersFile: DefaultParametersFile,
		PasswordFiles:  append([]string(nil), DefaultPasswordFiles...),
		CountersFile:   DefaultCountersFile,

		DbPath:          "./migrobot_ledger.duckdb",
		OutputDir:       "./output_parquet",
		CredentialsFile: "./credentials.yaml",

		Extraction: ExtractionConfig{
			PollInterval: 5 * time.Second,
			PollRetries:  10,
		},
		Reconcile: ReconcileConfig{
			RowsPerMove:        1,
			ExtraArtifacts:     map[string]int{"PDOL": 2, "MLM": 0},
			MLMLossTolerance:   10,
			MLMNotFoundAllowed: 10,
		},
		Rename: RenameConfig{
			CustomerRoot: Retry{Attempts: 10, Delay: time.Second},
			Dossier: map[string]Retry{
				"PDOL": {Attempts: 3, Delay: 500 * time.Millisecond},
				"SDOL": {Attempts: 5, Delay: 500 * time.Millisecond},
				"MLM":  {Attempts: 5, Delay: 500 * time.Millisecond},
			},
		},
		SFTP: SFTPConfig{
			Port:            22,
			CredentialsItem: "sftp",
			ProdFolder:      DefaultSFTPProdFolder,
			TestFolder:      DefaultSFTPTestFolder,
			ConnectRetries:  3,
			RetryDelay:      20 * time.Second,
		},
		Slack: SlackConfig{
			CredentialsItem: "slack",
		},
	}
}

// Load overlays the YAML file at path (optional) and MIGROBOT_* environment
// variables on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("MIGROBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"mig_root", "pentaho_dir", "seven_zip_path", "db_path", "output_dir",
		"credentials_file", "pushgateway_url", "sftp.host", "slack.channel",
	} {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// DossierRetry returns the rename budget for the given migration type.
// Keys are matched case-insensitively since viper lowercases map keys.
func (c Config) DossierRetry(migType string) Retry {
	for k, r := range c.Rename.Dossier {
		if strings.EqualFold(k, migType) {
			return r
		}
	}
	return Retry{Attempts: 3, Delay: 500 * time.Millisecond}
}

// ExtraArtifactsFor returns the artifact offset for the given migration type.
func (c Config) ExtraArtifactsFor(migType string) int {
	for k, n := range c.Reconcile.ExtraArtifacts {
		if strings.EqualFold(k, migType) {
			return n
		}
	}
	return 0
}

// LauncherPath returns the launcher script location. A relative
// LauncherScript is resolved against the migration root.
func (c Config) LauncherPath() string {
	if filepath.IsAbs(c.LauncherScript) {
		return c.LauncherScript
	}
	return filepath.Join(c.MigRoot, c.LauncherScript)
}

// SFTPFolder picks the remote base folder for uploads.
func (c Config) SFTPFolder(prod bool) string {
	if prod {
		return c.SFTP.ProdFolder
	}
	return c.SFTP.TestFolder
}
