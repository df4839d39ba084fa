package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/apptrack/datescan"
)

const (
	EnvDataDir = "APPTRACK_DATA_DIR"
	EnvRecords = "APPTRACK_RECORDS"
)

// Config captures the options shared by every subcommand.
type Config struct {
	DataDir       string
	RecordsPath   string
	LogLevel      string
	LogDir        string
	Workers       int
	RenderDPI     float64
	RenderWorkers int
	DateLocale    string
	ConfigFile    string
}

// JournalPath is the operation journal kept next to the record file.
func (c Config) JournalPath() string {
	ext := filepath.Ext(c.RecordsPath)
	return strings.TrimSuffix(c.RecordsPath, ext) + ".journal.jsonl"
}

// fileConfig is the YAML form of --config. Empty values leave the flag default.
type fileConfig struct {
	DataDir       string  `yaml:"data_dir"`
	Records       string  `yaml:"records"`
	LogLevel      string  `yaml:"log_level"`
	LogDir        string  `yaml:"log_dir"`
	Workers       int     `yaml:"workers"`
	RenderDPI     float64 `yaml:"render_dpi"`
	RenderWorkers int     `yaml:"render_workers"`
	DateLocale    string  `yaml:"date_locale"`
}

// RegisterFlags attaches the shared flags to the root command as persistent flags.
func RegisterFlags(cmd *cobra.Command) error {
	dataDir, records, err := defaultPaths()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("data-dir", dataDir, "Root directory holding one folder per application (env "+EnvDataDir+")")
	flags.String("records", records, "Path of the JSON record file (env "+EnvRecords+")")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (logs only to stdout when empty)")
	flags.Int("workers", 4, "Parallel folder operations during bulk synchronization")
	flags.Float64("render-dpi", 150, "Resolution of rendered document pages")
	flags.Int("render-workers", 2, "Maximum concurrent page renders")
	flags.String("date-locale", "fr", "Language of dates scanned in imported documents: fr, en")
	flags.String("config", "", "YAML file providing defaults for flags not set on the command line")
	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
// Precedence: explicit flag, environment, config file, flag default.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	dataDir, err := flags.GetString("data-dir")
	if err != nil {
		return Config{}, err
	}
	records, err := flags.GetString("records")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return Config{}, err
	}
	renderDPI, err := flags.GetFloat64("render-dpi")
	if err != nil {
		return Config{}, err
	}
	renderWorkers, err := flags.GetInt("render-workers")
	if err != nil {
		return Config{}, err
	}
	dateLocale, err := flags.GetString("date-locale")
	if err != nil {
		return Config{}, err
	}
	configFile, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}

	if configFile != "" {
		fc, err := readFile(configFile)
		if err != nil {
			return Config{}, err
		}
		set := func(name string) bool { return !flags.Changed(name) }
		if set("data-dir") && fc.DataDir != "" {
			dataDir = fc.DataDir
		}
		if set("records") && fc.Records != "" {
			records = fc.Records
		}
		if set("log-level") && fc.LogLevel != "" {
			logLevel = fc.LogLevel
		}
		if set("log-dir") && fc.LogDir != "" {
			logDir = fc.LogDir
		}
		if set("workers") && fc.Workers != 0 {
			workers = fc.Workers
		}
		if set("render-dpi") && fc.RenderDPI != 0 {
			renderDPI = fc.RenderDPI
		}
		if set("render-workers") && fc.RenderWorkers != 0 {
			renderWorkers = fc.RenderWorkers
		}
		if set("date-locale") && fc.DateLocale != "" {
			dateLocale = fc.DateLocale
		}
	}

	if v := os.Getenv(EnvDataDir); v != "" && !flags.Changed("data-dir") {
		dataDir = v
	}
	if v := os.Getenv(EnvRecords); v != "" && !flags.Changed("records") {
		records = v
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		DataDir:       expandHome(dataDir),
		RecordsPath:   expandHome(records),
		LogLevel:      logLevel,
		LogDir:        logDir,
		Workers:       workers,
		RenderDPI:     renderDPI,
		RenderWorkers: renderWorkers,
		DateLocale:    strings.ToLower(strings.TrimSpace(dateLocale)),
		ConfigFile:    configFile,
	}
	if cfg.DataDir != "" {
		cfg.DataDir = filepath.Clean(cfg.DataDir)
	}
	if cfg.RecordsPath != "" {
		cfg.RecordsPath = filepath.Clean(cfg.RecordsPath)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read --config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse --config %s: %w", path, err)
	}
	return fc, nil
}

func validateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("--data-dir is required")
	}
	if cfg.RecordsPath == "" {
		return fmt.Errorf("--records is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.RenderWorkers <= 0 {
		return fmt.Errorf("--render-workers must be positive")
	}
	if cfg.RenderDPI < 36 || cfg.RenderDPI > 600 {
		return fmt.Errorf("--render-dpi must be between 36 and 600")
	}
	if _, err := datescan.Lookup(cfg.DateLocale); err != nil {
		return fmt.Errorf("invalid --date-locale: %w", err)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultPaths() (dataDir, records string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(home, "Candidatures"), filepath.Join(home, "candidatures.json"), nil
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

// LoadEnv reads KEY=value pairs from .env files into the process environment
// without overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}
