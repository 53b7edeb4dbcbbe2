package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/processing"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check opportunity engine status",
	Long: `Check the current status of the opportunity engine including health,
per-strategy risk state and analysis pool statistics.`,
	RunE: runStatus,
}

var (
	jsonOutput    bool
	watchMode     bool
	watchInterval time.Duration
)

// EngineStatus aggregates the admin API's health, risk and stats views
type EngineStatus struct {
	Status     string                `json:"status"`
	Uptime     string                `json:"uptime"`
	Timestamp  time.Time             `json:"timestamp"`
	Armed      map[string]bool       `json:"armed,omitempty"`
	Strategies []types.RiskStateView `json:"strategies,omitempty"`
	Pool       *processing.PoolStats `json:"pool,omitempty"`
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")
	statusCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "watch mode (continuous updates)")
	statusCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "watch interval duration")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if watchMode {
		return runWatchStatus()
	}

	status, err := getEngineStatus()
	if err != nil {
		return fmt.Errorf("failed to get engine status: %w", err)
	}

	if jsonOutput {
		return outputJSON(status)
	}

	return outputFormatted(status)
}

func runWatchStatus() error {
	fmt.Printf("📊 Watching opportunity engine status (interval: %v)\n", watchInterval)
	fmt.Println("Press Ctrl+C to stop watching...")
	fmt.Println()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	// Show initial status
	if err := showCurrentStatus(); err != nil {
		return err
	}

	for range ticker.C {
		fmt.Print("\033[H\033[2J") // Clear screen
		if err := showCurrentStatus(); err != nil {
			return err
		}
	}
	return nil
}

func showCurrentStatus() error {
	status, err := getEngineStatus()
	if err != nil {
		fmt.Printf("❌ Error: %v\n", err)
		return nil
	}

	return outputFormatted(status)
}

func apiBaseURL() string {
	apiHost := viper.GetString("server.host")
	if apiHost == "" || apiHost == "0.0.0.0" {
		apiHost = "localhost"
	}
	apiPort := viper.GetInt("server.port")
	if apiPort == 0 {
		apiPort = 8080
	}
	return fmt.Sprintf("http://%s:%d", apiHost, apiPort)
}

func getEngineStatus() (*EngineStatus, error) {
	base := apiBaseURL()
	client := &http.Client{Timeout: 5 * time.Second}

	status := &EngineStatus{Status: "offline", Timestamp: time.Now()}

	var health struct {
		Status    string          `json:"status"`
		Uptime    string          `json:"uptime"`
		Timestamp time.Time       `json:"timestamp"`
		Armed     map[string]bool `json:"armed"`
	}
	if err := fetchJSON(client, base+"/health", &health); err != nil {
		// Engine might not be running
		return status, nil
	}
	status.Status = health.Status
	status.Uptime = health.Uptime
	status.Armed = health.Armed

	var riskView struct {
		Strategies []types.RiskStateView `json:"strategies"`
	}
	if err := fetchJSON(client, base+"/api/v1/risk", &riskView); err == nil {
		status.Strategies = riskView.Strategies
	}

	var pool processing.PoolStats
	if err := fetchJSON(client, base+"/api/v1/stats", &pool); err == nil {
		status.Pool = &pool
	}

	return status, nil
}

func fetchJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func outputJSON(status *EngineStatus) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(status)
}

func outputFormatted(status *EngineStatus) error {
	fmt.Printf("🎯 Opportunity Engine Status\n")
	fmt.Printf("============================\n\n")

	statusIcon := "❌"
	if status.Status == "healthy" {
		statusIcon = "✅"
	}

	fmt.Printf("Status:      %s %s\n", statusIcon, status.Status)
	if status.Uptime != "" {
		fmt.Printf("Uptime:      %s\n", status.Uptime)
	}
	fmt.Printf("Timestamp:   %s\n", status.Timestamp.Format(time.RFC3339))

	if len(status.Strategies) > 0 {
		fmt.Printf("\n🛡  Risk State\n")
		fmt.Printf("-------------\n")
		for _, state := range status.Strategies {
			icon := "✅"
			if !state.Armed {
				icon = "⛔"
			}
			fmt.Printf("%-10s %s  failures: %d  exposure: %s wei\n",
				state.Strategy, icon, state.ConsecutiveFailures, state.CumulativeExposure)
		}
	}

	if status.Pool != nil {
		fmt.Printf("\n📈 Analysis Pool\n")
		fmt.Printf("---------------\n")
		fmt.Printf("Queued:          %d\n", status.Pool.QueuedJobs)
		fmt.Printf("Analyzed:        %d\n", status.Pool.Analyzed)
		fmt.Printf("Detected:        %d\n", status.Pool.Detected)
		fmt.Printf("Timed out:       %d\n", status.Pool.TimedOut)
		fmt.Printf("Dropped:         %d\n", status.Pool.Dropped)
		fmt.Printf("Analysis faults: %d\n", status.Pool.AnalysisFault)
	}

	return nil
}
