package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexivo/sentinel/internal/application/dto"
	"github.com/nexivo/sentinel/internal/domain/models"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List active lock records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var response struct {
			Locks []models.DeviceLock `json:"locks"`
		}
		if err := getJSON("/v1/locks", &response); err != nil {
			return err
		}

		if len(response.Locks) == 0 {
			fmt.Println("No active locks.")
			return nil
		}
		for _, lock := range response.Locks {
			fmt.Printf("%s  type=%s  reason=%s  enforced=%t\n  %s\n",
				lock.LockID, lock.LockType, lock.LockReason, lock.Enforced, lock.Message)
		}
		return nil
	},
}

var lockPin string

var ackCmd = &cobra.Command{
	Use:   "ack <lock-id>",
	Short: "Acknowledge a soft lock, resolving it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/v1/locks/"+args[0]+"/action", dto.SoftLockActionRequest{Action: "ACKNOWLEDGE"})
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <lock-id>",
	Short: "Dismiss a soft lock overlay without resolving it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/v1/locks/"+args[0]+"/action", dto.SoftLockActionRequest{Action: "DISMISS"})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <lock-id>",
	Short: "Attempt a PIN unlock against a hard lock.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/v1/locks/"+args[0]+"/action", dto.SoftLockActionRequest{
			Action: "pin_unlock",
			Pin:    lockPin,
		})
	},
}

func init() {
	unlockCmd.Flags().StringVar(&lockPin, "pin", "", "unlock PIN issued with the last payment notice")
	_ = unlockCmd.MarkFlagRequired("pin")

	rootCmd.AddCommand(locksCmd, ackCmd, dismissCmd, unlockCmd)
}
