package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/zaplink/zaplink/internal/config"
)

var (
	qrAgentID string
	qrOutPath string
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Render the pending pairing QR code to a PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, status, err := apiCall(http.MethodGet, "/api/v1/instances/"+qrAgentID, "")
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("status lookup failed: %s", body)
		}
		var rec struct {
			State  string `json:"state"`
			QRCode string `json:"qr_code"`
		}
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return err
		}
		if rec.QRCode == "" {
			fmt.Printf("No QR code pending (state: %s)\n", rec.State)
			return nil
		}

		out := qrOutPath
		if out == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out = filepath.Join(cfg.Paths.DataDir, "qr-"+qrAgentID+".png")
		}
		if err := qrcode.WriteFile(rec.QRCode, qrcode.Medium, 512, out); err != nil {
			return fmt.Errorf("write QR png: %w", err)
		}
		fmt.Printf("📱 QR code written to %s — scan it with WhatsApp\n", out)
		return nil
	},
}

func init() {
	qrCmd.Flags().StringVar(&qrAgentID, "agent", "", "agent id (required)")
	qrCmd.Flags().StringVar(&qrOutPath, "out", "", "output PNG path (default: data dir)")
	qrCmd.MarkFlagRequired("agent")
}
