package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexivo/sentinel/internal/application/dto"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent's current state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status dto.AgentStatusResponse
		if err := getJSON("/v1/status", &status); err != nil {
			return err
		}

		fmt.Printf("Device ID:         %s\n", status.DeviceID)
		fmt.Printf("Lock state:        %s\n", status.LockState)
		fmt.Printf("Protection level:  %s (score %d)\n", status.ProtectionLevel, status.ThreatScore)
		fmt.Printf("Active locks:      %d\n", status.ActiveLocks)
		fmt.Printf("Pending commands:  %d\n", status.PendingCommands)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
