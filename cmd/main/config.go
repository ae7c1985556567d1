package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/paremia/trawl/pkg/harvest"
	"github.com/paremia/trawl/pkg/novelty"
	"github.com/paremia/trawl/pkg/prompt"
)

// ServerConfig holds the configuration for the HTTP API server.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr"`
	LogLevel     string `json:"log_level"`
	DataDir      string `json:"data_dir"`
	DatabasePath string `json:"database_path"`
}

// HarvestConfig wraps the run parameters of a harvest together with the
// daemon-side behavior around it.
type HarvestConfig struct {
	// Client configures the completion endpoint requests are sent to.
	Client harvest.ClientConfig `json:"client"`

	// Run configures the harvesting loop itself.
	Run harvest.Config `json:"run"`

	// SystemTemplate and UserTemplate name the prompt templates rendered for
	// each run. Empty falls back to the run config's literal prompt strings.
	SystemTemplate string `json:"system_template"`
	UserTemplate   string `json:"user_template"`

	// AutoExtract, when set, extracts the finished output file into the
	// corpus named by ExtractCorpus.
	AutoExtract   bool   `json:"auto_extract"`
	ExtractCorpus string `json:"extract_corpus"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server  *ServerConfig   `json:"server_config"`
	Harvest *HarvestConfig  `json:"harvest_config"`
	Scoring *novelty.Config `json:"scoring_config"`
	Prompts *prompt.Config  `json:"prompt_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:      ":7487",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/trawl.db?_journal_mode=WAL&_busy_timeout=5000",
	}
}

// DefaultHarvestConfig creates a harvest configuration with default values.
func DefaultHarvestConfig() *HarvestConfig {
	run := harvest.DefaultConfig()
	run.OutputPath = "./data/proverbs.json"
	return &HarvestConfig{
		Client:         harvest.ClientConfig{},
		Run:            run,
		SystemTemplate: "system.tmpl.txt",
		UserTemplate:   "user.tmpl.txt",
		AutoExtract:    false,
		ExtractCorpus:  "harvested",
	}
}

func defaultConfig() *Config {
	promptCfg := prompt.DefaultConfig()
	return &Config{
		Server:  DefaultServerConfig(),
		Harvest: DefaultHarvestConfig(),
		Scoring: novelty.DefaultConfig(),
		Prompts: &promptCfg,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the daemon can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ConfigManager handles thread-safe access to the configuration and pushes
// prompt-section updates into the prompt manager.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
	pm         *prompt.Manager
	scorer     *novelty.Scorer
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// SetPromptManager registers the prompt manager to receive config updates.
func (cm *ConfigManager) SetPromptManager(pm *prompt.Manager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.pm = pm
	if pm != nil {
		pm.SetConfig(*cm.config.Prompts)
	}
}

// SetScorer registers the scorer to receive scoring config updates.
func (cm *ConfigManager) SetScorer(scorer *novelty.Scorer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.scorer = scorer
	if scorer != nil {
		scorer.SetConfig(cm.config.Scoring)
	}
}

// SetLogger sets the logger. That's about it.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.logger = logger
}

// Get returns a thread-safe deep copy of the current configuration. The
// nested sections are copied too, so a caller mutating the result cannot
// reach the live config.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var cfg Config
	if cm.config.Server != nil {
		server := *cm.config.Server
		cfg.Server = &server
	}
	if cm.config.Harvest != nil {
		harvestCfg := *cm.config.Harvest
		cfg.Harvest = &harvestCfg
	}
	if cm.config.Scoring != nil {
		scoring := *cm.config.Scoring
		cfg.Scoring = &scoring
	}
	if cm.config.Prompts != nil {
		prompts := *cm.config.Prompts
		prompts.TemplateWhitelist = append([]string(nil), prompts.TemplateWhitelist...)
		cfg.Prompts = &prompts
	}
	return cfg
}

// Update updates the configuration, saves it to disk, and pushes the prompt
// section into the prompt manager.
func (cm *ConfigManager) Update(newConfig Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// If we have a prompt manager, try to apply the new config to it first.
	if cm.pm != nil && newConfig.Prompts != nil {
		oldPromptConfig := *cm.config.Prompts

		cm.pm.SetConfig(*newConfig.Prompts)
		if err := cm.pm.Refresh(); err != nil {
			// Rollback to old config
			cm.pm.SetConfig(oldPromptConfig)
			_ = cm.pm.Refresh()
			return fmt.Errorf("prompt configuration rejected: %w", err)
		}
	}

	*cm.config = newConfig

	if cm.scorer != nil {
		cm.scorer.SetConfig(cm.config.Scoring)
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
