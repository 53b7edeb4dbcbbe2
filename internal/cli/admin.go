package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Trip every strategy's circuit breaker",
	Long: `Emergency shutdown: trips the circuit breaker of every strategy on a
running engine. Tripped strategies stay down until an explicit reset;
the cool-down timer does not re-arm them.`,
	RunE: runShutdown,
}

var resetCmd = &cobra.Command{
	Use:   "reset [strategy]",
	Short: "Re-arm tripped strategies",
	Long: `Re-arm one strategy's circuit breaker, or all of them when no strategy
is named. This clears consecutive-failure counts and manual shutdowns.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

var confirmShutdown bool

func init() {
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(resetCmd)

	shutdownCmd.Flags().BoolVar(&confirmShutdown, "confirm", false, "confirm emergency shutdown")
}

func runShutdown(cmd *cobra.Command, args []string) error {
	if !confirmShutdown {
		return fmt.Errorf("emergency shutdown requires --confirm")
	}

	fmt.Println("🛑 Tripping all circuit breakers...")
	if err := postAdmin("/api/v1/shutdown", nil); err != nil {
		return err
	}
	fmt.Println("✅ All strategies shut down")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	var body map[string]string
	target := "all strategies"
	if len(args) == 1 {
		body = map[string]string{"strategy": args[0]}
		target = args[0]
	}

	fmt.Printf("🔄 Re-arming %s...\n", target)
	if err := postAdmin("/api/v1/reset", body); err != nil {
		return err
	}
	fmt.Println("✅ Reset complete")
	return nil
}

// postAdmin sends an authenticated mutating request to the admin API
func postAdmin(path string, body interface{}) error {
	apiKey := viper.GetString("server.api_key")
	if apiKey == "" {
		return fmt.Errorf("admin commands require --api-key or server.api_key in config")
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequest(http.MethodPost, apiBaseURL()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("engine refused: %s", apiErr.Error)
		}
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}
	return nil
}
