package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "notifytail",
		Short:   "Follow storefront order notifications from the terminal",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("server", envOr("STOREFRONT_URL", "http://localhost:8080"), "Storefront base URL")
	rootCmd.PersistentFlags().String("email", os.Getenv("STOREFRONT_EMAIL"), "Account email")
	rootCmd.PersistentFlags().String("password", os.Getenv("STOREFRONT_PASSWORD"), "Account password")
	rootCmd.PersistentFlags().Bool("debug", false, "Verbose logging")

	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(unreadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
