package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/zaplink/zaplink/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _____            _     _       _\n" +
		" |__  /__ _ _ __  | |   (_)_ __ | | __\n" +
		"   / // _` | '_ \\ | |   | | '_ \\| |/ /\n" +
		"  / /| (_| | |_) || |___| | | | |   <\n" +
		" /____\\__,_| .__/ |_____|_|_| |_|_|\\_\\\n" +
		"           |_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "zaplink",
	Short: "ZapLink - WhatsApp instance lifecycle service",
	Long:  color.CyanString(logo) + "\nConnection state, QR pairing and event reconciliation for WhatsApp gateway instances.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(qrCmd)
}
