package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zaplink/zaplink/internal/config"
)

var instanceAgentID string

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage WhatsApp instances on a running service",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision an instance and start pairing",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, status, err := apiCall(http.MethodPost, "/api/v1/instances/"+instanceAgentID, "")
		if err != nil {
			return err
		}
		if status == http.StatusConflict {
			fmt.Println("⚠️  Instance already exists; delete it first")
			return nil
		}
		if status != http.StatusCreated {
			return fmt.Errorf("create failed: %s", strings.TrimSpace(body))
		}
		fmt.Println("✅ Instance created")
		printRecord(body)
		return nil
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Tear an instance down",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, status, err := apiCall(http.MethodDelete, "/api/v1/instances/"+instanceAgentID, "")
		if err != nil {
			return err
		}
		if status != http.StatusNoContent {
			return fmt.Errorf("delete failed: %s", strings.TrimSpace(body))
		}
		fmt.Println("🗑️  Instance deleted")
		return nil
	},
}

var instanceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current connection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, status, err := apiCall(http.MethodGet, "/api/v1/instances/"+instanceAgentID, "")
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("status failed: %s", strings.TrimSpace(body))
		}
		printRecord(body)
		return nil
	},
}

var instanceRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force one reconciliation pass against the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, status, err := apiCall(http.MethodPost, "/api/v1/instances/"+instanceAgentID+"/refresh", "")
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("refresh failed: %s", strings.TrimSpace(body))
		}
		fmt.Println("🔄 Refreshed")
		printRecord(body)
		return nil
	},
}

func init() {
	instanceCmd.PersistentFlags().StringVar(&instanceAgentID, "agent", "", "agent id (required)")
	instanceCmd.MarkPersistentFlagRequired("agent")
	instanceCmd.AddCommand(instanceCreateCmd)
	instanceCmd.AddCommand(instanceDeleteCmd)
	instanceCmd.AddCommand(instanceStatusCmd)
	instanceCmd.AddCommand(instanceRefreshCmd)
}

// apiCall talks to the local running service.
func apiCall(method, path, body string) (string, int, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", 0, err
	}
	url := fmt.Sprintf("http://%s:%d%s", cfg.Server.Host, cfg.Server.Port, path)
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("service unreachable at %s (is 'zaplink serve' running?): %w", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}

func printRecord(body string) {
	var rec struct {
		AgentID      string `json:"agent_id"`
		InstanceName string `json:"instance_name"`
		State        string `json:"state"`
		QRCode       string `json:"qr_code"`
		PhoneNumber  string `json:"phone_number"`
		RawStatus    string `json:"raw_status"`
		UpdatedAt    string `json:"updated_at"`
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		fmt.Println(body)
		return
	}
	fmt.Printf("Agent:    %s\n", rec.AgentID)
	fmt.Printf("Instance: %s\n", rec.InstanceName)
	fmt.Printf("State:    %s\n", rec.State)
	if rec.PhoneNumber != "" {
		fmt.Printf("Phone:    %s\n", rec.PhoneNumber)
	}
	if rec.RawStatus != "" {
		fmt.Printf("Raw:      %s\n", rec.RawStatus)
	}
	if rec.QRCode != "" {
		fmt.Println("QR:       pending scan (run 'zaplink qr --agent " + rec.AgentID + "')")
	}
}
