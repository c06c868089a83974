package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bcctl",
	Short: "Command-line smoke test client for BC cameras.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cameras.yaml", "path to cameras.yaml")
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(infoCmd)
}
