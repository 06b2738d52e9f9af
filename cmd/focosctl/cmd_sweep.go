package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/conversation"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the auto-reassignment sweep now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		var res conversation.SweepResult
		if err := adminCall(cmd.Context(), cfg, http.MethodPost, "/admin/sweep", nil, &res, 5*time.Minute); err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		if jsonFlag {
			outputJSON(res)
			return nil
		}
		fmt.Printf("Processed: %d\n", res.Processed)
		fmt.Printf("Errors:    %d\n", res.Errors)
		return nil
	},
}
