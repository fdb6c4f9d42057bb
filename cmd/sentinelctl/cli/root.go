package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var apiAddr string

// rootCmd is the base command for the sentinelctl binary.
var rootCmd = &cobra.Command{
	Use:   "sentinelctl",
	Short: "Inspect and control the local Sentinel compliance agent.",
	Long: `sentinelctl talks to the Sentinel agent's loopback control API to show
agent status, list active locks, and relay lock actions such as
acknowledging a payment reminder or attempting a PIN unlock.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "127.0.0.1:7411", "address of the agent's local control API")
}

func apiClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func apiURL(path string) string {
	return "http://" + apiAddr + path
}

// getJSON fetches a local API endpoint and decodes it into out.
func getJSON(path string, out interface{}) error {
	resp, err := apiClient().Get(apiURL(path))
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// postJSON posts a body to a local API endpoint.
func postJSON(path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := apiClient().Post(apiURL(path), "application/json", strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
