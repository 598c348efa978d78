package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kostiks/snapback/internal/api"
	"github.com/kostiks/snapback/internal/config"
	"github.com/kostiks/snapback/internal/gateway"
	"github.com/kostiks/snapback/internal/persona"
	"github.com/kostiks/snapback/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "snapback",
	Short: "snapback - persona chat gateway",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (HTTP API + channels + session sweep)",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and seed the persona store",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway configuration and store counts",
	RunE:  runStatus,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg.Gateway, gw)
	srv.Start()
	defer func() {
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "stop api server: %v\n", err)
		}
	}()

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := config.SaveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", config.ConfigPath())

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	added, err := st.SeedInstructions(persona.SeedInstructions)
	if err != nil {
		return err
	}
	fmt.Printf("Store ready at %s (%d seed instructions added)\n", cfg.Store.DBPath, added)

	if cfg.Provider.TrialAPIKey == "" || cfg.Provider.TrialAPIKey == config.PlaceholderAPIKey {
		fmt.Println("Warning: no trial API key configured. Set OPENROUTER_API_KEY (or GEMINI_API_KEY for the google provider).")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Persona:   %s\n", persona.Name)
	fmt.Printf("Provider:  %s (%s)\n", cfg.Provider.Type, cfg.Provider.BaseURL)
	trial := "configured"
	if cfg.Provider.TrialAPIKey == "" || cfg.Provider.TrialAPIKey == config.PlaceholderAPIKey {
		trial = "NOT CONFIGURED"
	}
	fmt.Printf("Trial key: %s\n", trial)
	fmt.Printf("Listen:    %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("Telegram:  enabled=%v\n", cfg.Channels.Telegram.Enabled)

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	facts, err := st.ListFacts()
	if err != nil {
		return err
	}
	instructions, err := st.ListInstructions()
	if err != nil {
		return err
	}
	visible, err := st.ListVisibleInstructions()
	if err != nil {
		return err
	}
	fmt.Printf("Facts:     %d\n", len(facts))
	fmt.Printf("Rules:     %d (%d visible)\n", len(instructions), len(visible))
	return nil
}

func main() {
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
