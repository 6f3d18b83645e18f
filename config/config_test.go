package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsToSQLite(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "inventory.db", cfg.SQLitePath)
	assert.Equal(t, "deepseek-chat", cfg.Completion.Model)
}

func TestLoad_SheetStoreRequiresCredentials(t *testing.T) {
	t.Setenv("BOT_STORE", "sheet")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_FEISHU_APP_ID")
}

func TestLoad_SheetStoreComplete(t *testing.T) {
	t.Setenv("BOT_STORE", "sheet")
	t.Setenv("BOT_FEISHU_APP_ID", "cli_app")
	t.Setenv("BOT_FEISHU_APP_SECRET", "secret")
	t.Setenv("BOT_FEISHU_SPREADSHEET_TOKEN", "shtcn123")
	t.Setenv("BOT_FEISHU_PRODUCTS_SHEET", "prods")
	t.Setenv("BOT_FEISHU_LAYERS_SHEET", "layers")
	t.Setenv("BOT_FEISHU_TRANSACTIONS_SHEET", "txs")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cli_app", cfg.Feishu.AppID)
	assert.Equal(t, "shtcn123", cfg.Feishu.SpreadsheetToken)
}

func TestLoad_UnknownStoreRejected(t *testing.T) {
	t.Setenv("BOT_STORE", "postgres")

	_, err := Load()
	assert.Error(t, err)
}
