package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the daemon's health over its unix socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, layout, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := grpc.NewClient(
			"unix://"+layout.SocketPath(),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return fmt.Errorf("connect to daemon: %w", err)
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return fmt.Errorf("cannot reach daemon at %s: %w", layout.SocketPath(), err)
		}
		if jsonFlag {
			outputJSON(map[string]string{"status": resp.Status.String()})
			return nil
		}
		fmt.Printf("Socket: %s\n", layout.SocketPath())
		fmt.Printf("Status: %s\n", resp.Status)
		return nil
	},
}
