package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "WebSocket broadcast relay for peer signaling",
	Long: `relay accepts WebSocket clients and forwards every message a client
sends to all other connected clients. Payloads are never inspected, so any
signaling protocol (SDP offers, answers, ICE candidates) can ride on it.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("env-file", "", "dotenv file to load (default .env when present)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")

	addServeFlags(rootCmd)
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
