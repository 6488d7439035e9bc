package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "opsdesk",
	Short: "Opsdesk — activity tracking admin panel",
	Long:  "Opsdesk is a small admin panel backend for tracking team activities: role-based activity management, dashboard summaries, user and sector administration, and webhook notifications to external systems.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/opsdesk.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
