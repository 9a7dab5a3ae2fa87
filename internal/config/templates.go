package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Paper Trader Configuration

[trading]
# Assets to trade (Binance futures symbols)
assets = ["BTCUSDT", "ETHUSDT"]
# Polling interval between cycles
interval = "3m"
# Virtual starting balance in USDT
starting_balance = 10000.0
# Taker fee rate applied to entry and exit
fee_rate = 0.000275
# Maximum allowed leverage
max_leverage = 125
# Annual risk-free rate used by risk-adjusted return metrics
risk_free_rate = 0.04

[market_data]
base_url = "https://fapi.binance.com"
timeframe = "3m"
candle_limit = 100
timeout = "15s"

[storage]
# database_path = ""   # defaults to <config dir>/papertrader.db
csv_export = true
# csv_path = ""        # defaults to <config dir>/trades.csv

[notifications]
enabled = false

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# Paper Trader Credentials
# Prefer the OPENAI_API_KEY environment variable over storing keys here.

[openai]
api_key = ""
`

const llmTemplate = `# AI decision configuration

model = "gpt-4o"
timeout = "60s"
max_attempts = 3
`

func createTemplateConfig(configDir string) error {
	return writeTemplate(configDir, "config.toml", configTemplate)
}

func createTemplateCredentials(configDir string) error {
	return writeTemplate(configDir, "credentials.toml", credentialsTemplate)
}

func createTemplateLLMConfig(configDir string) error {
	return writeTemplate(configDir, "llm.toml", llmTemplate)
}

func writeTemplate(configDir, name, content string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	path := filepath.Join(configDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
