package main

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/api"
	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/spf13/cobra"
)

const directoryTimeout = 30 * time.Second

var (
	integrationName    string
	integrationPhoneID string
	integrationToken   string
	integrationVersion string

	agentName string
	agentRole string
)

func init() {
	integrationAddCmd.Flags().StringVar(&integrationName, "name", "", "display name")
	integrationAddCmd.Flags().StringVar(&integrationPhoneID, "phone-number-id", "", "Cloud API phone number id")
	integrationAddCmd.Flags().StringVar(&integrationToken, "token", "", "Cloud API access token")
	integrationAddCmd.Flags().StringVar(&integrationVersion, "api-version", "", "Graph API version (default whatsapp.api_version)")
	_ = integrationAddCmd.MarkFlagRequired("phone-number-id")
	_ = integrationAddCmd.MarkFlagRequired("token")
	integrationCmd.AddCommand(integrationAddCmd, integrationRmCmd)

	agentAddCmd.Flags().StringVar(&agentName, "name", "", "agent name")
	agentAddCmd.Flags().StringVar(&agentRole, "role", auth.RoleAgent, "role (agent or admin)")
	_ = agentAddCmd.MarkFlagRequired("name")
	agentCmd.AddCommand(agentAddCmd)

	rootCmd.AddCommand(integrationCmd, agentCmd)
}

var integrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "Manage channel integrations",
}

var integrationAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update the integration for a phone number id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		req := map[string]string{
			"name":            integrationName,
			"phone_number_id": integrationPhoneID,
			"access_token":    integrationToken,
			"api_version":     integrationVersion,
		}
		var view api.IntegrationView
		if err := adminCall(cmd.Context(), cfg, http.MethodPost, "/admin/integrations", req, &view, directoryTimeout); err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(view)
			return nil
		}
		fmt.Printf("Integration %d saved for %s\n", view.ID, view.PhoneNumberID)
		return nil
	},
}

var integrationRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an integration with no conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid integration id %q", args[0])
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if err := adminCall(cmd.Context(), cfg, http.MethodDelete, "/admin/integrations/"+args[0], nil, nil, directoryTimeout); err != nil {
			return err
		}
		fmt.Printf("Integration %d removed\n", id)
		return nil
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents",
}

var agentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentRole != auth.RoleAgent && agentRole != auth.RoleAdmin {
			return fmt.Errorf("unknown role %q", agentRole)
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		var a api.AgentView
		req := map[string]string{"name": agentName, "role": agentRole}
		if err := adminCall(cmd.Context(), cfg, http.MethodPost, "/admin/agents", req, &a, directoryTimeout); err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(a)
			return nil
		}
		fmt.Printf("Agent %d created (%s)\n", a.ID, a.Role)
		return nil
	},
}
