package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobradar",
		Short: "Collect, classify and stream job offers scraped from the web",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(collectCmd())
	root.AddCommand(offersCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var (
		url      string
		userID   string
		filterID string
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(url, userID, filterID)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "target URL (default: from config)")
	cmd.Flags().StringVar(&userID, "user", "", "associate collected offers with this user")
	cmd.Flags().StringVar(&filterID, "filter", "", "filter id to tag associations with")
	return cmd
}

func offersCmd() *cobra.Command {
	var (
		jsonOutput bool
		userID     string
		filterID   string
	)

	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Show stored job offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOffers(jsonOutput, userID, filterID)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&userID, "user", "", "only offers associated with this user")
	cmd.Flags().StringVar(&filterID, "filter", "", "narrow to one filter (requires --user)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
