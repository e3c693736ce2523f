package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-collector/internal/config"
	"github.com/i474232898/weather-collector/internal/logging"
	"github.com/i474232898/weather-collector/internal/weather"
)

func newFetchCmd() *cobra.Command {
	var (
		city     string
		lat, lon float64
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Print a live reading for a city or coordinates without storing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			coords := cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon")
			if city == "" && !coords {
				return errors.New("either --city or both --lat and --lon are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := logging.New(logging.Options{Level: "warn", Format: cfg.LogFormat})
			if err != nil {
				return err
			}

			httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
			provs, closers, err := buildProviders(cmd.Context(), cfg, httpClient, logger)
			if err != nil {
				return err
			}
			defer closeAll(closers, logger)

			source := weather.NewService(provs, logger)
			var reading weather.Reading
			if coords {
				reading, err = source.FetchByCoordinates(cmd.Context(), lat, lon)
			} else {
				reading, err = source.FetchByCity(cmd.Context(), city)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reading)
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "city name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	return cmd
}
