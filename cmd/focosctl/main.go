package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aifocusdev/focos-ia-sub000/internal/config"
	"github.com/aifocusdev/focos-ia-sub000/internal/instance"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	instanceFlag string
	configFlag   string
	jsonFlag     bool
)

var rootCmd = &cobra.Command{
	Use:           "focosctl",
	Short:         "Operate a focosd instance",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&instanceFlag, "instance", "", "instance name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.focos/config.toml or $FOCOS_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
}

func main() {
	_ = godotenv.Load(".env")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config and instance layout shared by every command.
func loadConfig() (*config.Config, instance.Layout, error) {
	path := configFlag
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, instance.Layout{}, fmt.Errorf("load config %s: %w", path, err)
	}
	name := instance.Resolve(instanceFlag, cfg)
	if err := instance.ValidateName(name); err != nil {
		return nil, instance.Layout{}, err
	}
	return cfg, instance.NewLayout(name, cfg.DataDir), nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
