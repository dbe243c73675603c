package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civsource/parisbudget/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write default settings to the settings directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.DefaultSettings()
		if err := config.SaveSettings(settings); err != nil {
			return err
		}
		dir, err := config.SettingsDir()
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s/settings.json\n", dir)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
