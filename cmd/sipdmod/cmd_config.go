package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sipdmod/internal/config"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the sipdmod configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the workspace",
	Long: `Creates <workspace>/.sipdmod/config.yaml with the default settings.
An existing file is kept unless --force is given.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	path := resolveConfigPath(ws)
	if _, err := os.Stat(path); err == nil && !forceInit {
		fmt.Printf("Config already exists: %s\n", path)
		fmt.Println("Use --force to overwrite it.")
		return nil
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
