package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zaplink/zaplink/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ ZapLink Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local setup status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 ZapLink Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		configPath, err := config.ConfigPath()
		if err == nil {
			if _, err := os.Stat(configPath); err == nil {
				fmt.Println("Config:   ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:   ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:   ✗ Load failed: %v\n", err)
			return
		}
		fmt.Println("Gateway:  " + cfg.Gateway.BaseURL)
		if cfg.Gateway.APIKey != "" {
			fmt.Println("API Key:  ✓ Found")
		} else {
			fmt.Println("API Key:  ✗ Not found")
		}
		if _, err := os.Stat(cfg.DatabasePath()); err == nil {
			fmt.Println("Database: ✓ " + cfg.DatabasePath())
		} else {
			fmt.Println("Database: ✗ Not created yet (run 'zaplink serve')")
		}
		if cfg.Kafka.Enabled {
			fmt.Println("Kafka:    ✓ Enabled (" + cfg.Kafka.Brokers + ")")
		} else {
			fmt.Println("Kafka:    ✗ Disabled")
		}
		if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
			fmt.Println("Slack:    ✓ Alerts to " + cfg.Slack.Channel)
		} else {
			fmt.Println("Slack:    ✗ Alerts disabled")
		}
	},
}
