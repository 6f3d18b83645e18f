/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One Load() that reads every knob from BOT_* environment variables,
  applies defaults, and validates the combinations the process cannot
  run without. Credentials are only required for the backends that are
  actually selected, so tests and dev mode run with an empty env.

STORE SELECTION:
  BOT_STORE=sheet   Spreadsheet persistence (production; needs Feishu
                    credentials and table ids)
  BOT_STORE=sqlite  Local SQLite file (dev, integration tests)

SEE ALSO:
  - cmd/bot/main.go: The only consumer
*/
package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	StoreSheet  = "sheet"
	StoreSQLite = "sqlite"
)

// Config is the full runtime configuration, one field per BOT_* variable.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Store      string `envconfig:"STORE" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"inventory.db"`

	Feishu FeishuConfig `envconfig:"FEISHU"`

	Completion CompletionConfig `envconfig:"COMPLETION"`
}

// FeishuConfig holds the open-platform credentials and table layout.
type FeishuConfig struct {
	AppID             string `envconfig:"APP_ID"`
	AppSecret         string `envconfig:"APP_SECRET"`
	VerificationToken string `envconfig:"VERIFICATION_TOKEN"`
	EncryptKey        string `envconfig:"ENCRYPT_KEY"`

	SpreadsheetToken  string `envconfig:"SPREADSHEET_TOKEN"`
	ProductsSheet     string `envconfig:"PRODUCTS_SHEET"`
	LayersSheet       string `envconfig:"LAYERS_SHEET"`
	TransactionsSheet string `envconfig:"TRANSACTIONS_SHEET"`
}

// CompletionConfig holds the chat-completions extraction settings.
type CompletionConfig struct {
	BaseURL  string `envconfig:"BASE_URL" default:"https://api.deepseek.com"`
	APIKey   string `envconfig:"API_KEY"`
	Model    string `envconfig:"MODEL" default:"deepseek-chat"`
	MaxTurns int    `envconfig:"MAX_TURNS" default:"6"`
	// Minutes a conversation stays warm before history resets.
	SessionTTLMinutes int `envconfig:"SESSION_TTL_MINUTES" default:"30"`
}

// Load reads configuration from BOT_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("bot", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("BOT_SQLITE_PATH must not be empty")
		}
	case StoreSheet:
		if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
			return errors.New("BOT_FEISHU_APP_ID and BOT_FEISHU_APP_SECRET are required for the sheet store")
		}
		if c.Feishu.SpreadsheetToken == "" {
			return errors.New("BOT_FEISHU_SPREADSHEET_TOKEN is required for the sheet store")
		}
		if c.Feishu.ProductsSheet == "" || c.Feishu.LayersSheet == "" || c.Feishu.TransactionsSheet == "" {
			return errors.New("sheet ids (BOT_FEISHU_PRODUCTS_SHEET, BOT_FEISHU_LAYERS_SHEET, BOT_FEISHU_TRANSACTIONS_SHEET) are required for the sheet store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	return nil
}
