package main

import (
	"fmt"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenAgentID int64
	tokenRole    string
	tokenTTL     string
)

func init() {
	tokenCmd.Flags().Int64Var(&tokenAgentID, "agent", 0, "agent id the token is issued for")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleAgent, "role claim (agent or admin)")
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "", "token lifetime (default auth.jwt_expires_in)")
	_ = tokenCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT for an agent with the configured secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenRole != auth.RoleAgent && tokenRole != auth.RoleAdmin {
			return fmt.Errorf("unknown role %q", tokenRole)
		}
		ttl := tokenTTL
		if ttl == "" {
			ttl = cfg.Auth.JWTExpiresIn
		}
		raw, exp, err := auth.GenerateToken(
			auth.Principal{UserID: tokenAgentID, Role: tokenRole},
			cfg.Auth.JWTSecret,
			config.Duration(ttl, 24*time.Hour),
		)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(map[string]any{"token": raw, "expires_at": exp})
			return nil
		}
		fmt.Println(raw)
		return nil
	},
}
