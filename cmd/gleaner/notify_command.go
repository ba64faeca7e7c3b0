package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client, err := ctx.daemonClient(cmd.Context())
			if err != nil {
				return err
			}
			if client != nil {
				resp, err := client.NotifyTest(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, resp.Message)
				return nil
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(out, "ntfy topic not configured")
				return nil
			}
			notifier := notifications.NewService(cfg)
			if err := notifier.Publish(cmd.Context(), notifications.EventTest, notifications.Payload{"title": "Gleaner"}); err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}
			fmt.Fprintln(out, "test notification sent")
			return nil
		},
	}
}
