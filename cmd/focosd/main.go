package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aifocusdev/focos-ia-sub000/internal/config"
	"github.com/aifocusdev/focos-ia-sub000/internal/daemon"
	"github.com/aifocusdev/focos-ia-sub000/internal/instance"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.focos/config.toml or $FOCOS_CONFIG)")
	envFlag := flag.String("env-file", ".env", "optional env file loaded before config")
	flag.Parse()

	// A missing env file is fine; explicit environment always wins.
	_ = godotenv.Load(*envFlag)

	path := *configFlag
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	name := instance.Resolve(*instanceFlag, cfg)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Instance: name, Config: cfg}),
	)

	app.Run()
}
