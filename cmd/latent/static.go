// cmd/latent/static.go

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"latent/internal/ambient"
)

var (
	staticOut      string
	staticDuration time.Duration
	staticSeed     int64
	staticVolume   float64
)

// staticCmd renders the ambient static bed to a WAV file
var staticCmd = &cobra.Command{
	Use:   "static",
	Short: "Render the ambient static bed to a WAV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(staticOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", staticOut, err)
		}
		defer f.Close()

		ambientCfg := ambient.DefaultConfig()
		ambientCfg.Volume = staticVolume

		if err := ambient.RenderWAV(f, staticDuration, staticSeed, ambientCfg); err != nil {
			return err
		}

		logger.Info("Rendered static",
			zap.String("file", staticOut),
			zap.Duration("duration", staticDuration))
		return nil
	},
}

func init() {
	staticCmd.Flags().StringVarP(&staticOut, "out", "o", "static.wav", "output file")
	staticCmd.Flags().DurationVar(&staticDuration, "duration", 10*time.Second, "length of the rendered bed")
	staticCmd.Flags().Int64Var(&staticSeed, "seed", 1, "noise seed")
	staticCmd.Flags().Float64Var(&staticVolume, "volume", ambient.DefaultConfig().Volume, "linear gain")
}
