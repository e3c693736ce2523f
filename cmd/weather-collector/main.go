package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "weather-collector",
	Short:        "Schedules weather collectors and persists their readings",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newServeCmd(), newFetchCmd())
	cobra.CheckErr(rootCmd.Execute())
}
