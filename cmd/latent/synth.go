// cmd/latent/synth.go

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
)

var (
	synthLat      float64
	synthLng      float64
	synthRadius   float64
	synthStyle    string
	synthGenerate bool
)

// synthCmd runs one phantom synthesis, and optionally one generation,
// without starting the service
var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Synthesize a phantom (and optionally a transmission) for a coordinate",
	Example: `  latent synth --lat 51.5074 --lng -0.1278
  latent synth --lat 51.5074 --lng -0.1278 --generate --style whisper`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var style *transmission.Style
		if synthStyle != "" {
			parsed, err := transmission.ParseStyle(synthStyle)
			if err != nil {
				return err
			}
			style = &parsed
		}

		pos := geo.Position{Latitude: synthLat, Longitude: synthLng, Timestamp: time.Now().UTC()}
		anchors, err := initRegistry(cfg.Anchors, nil).NearbyAnchors(ctx, pos, synthRadius)
		if err != nil {
			return fmt.Errorf("failed to fetch anchors: %w", err)
		}

		out := map[string]interface{}{"anchors": anchors}

		if synthGenerate {
			generator, err := initGenerator(ctx, cfg.TextGen)
			if err != nil {
				return err
			}
			t, err := initAssembler(generator, cfg).Assemble(ctx, pos, anchors, style)
			if err != nil {
				return err
			}
			out["transmission"] = t
		} else {
			out["phantom"] = initAssembler(nil, cfg).Synthesizer().Synthesize(pos, anchors)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	synthCmd.Flags().Float64Var(&synthLat, "lat", 0, "observer latitude")
	synthCmd.Flags().Float64Var(&synthLng, "lng", 0, "observer longitude")
	synthCmd.Flags().Float64Var(&synthRadius, "radius", transmission.DefaultSettings().RadarRangeMeters, "anchor search radius in meters")
	synthCmd.Flags().StringVar(&synthStyle, "style", "", "transmission style (fragment, catalog, field_note, signal, whisper)")
	synthCmd.Flags().BoolVar(&synthGenerate, "generate", false, "also generate transmission text")
	_ = synthCmd.MarkFlagRequired("lat")
	_ = synthCmd.MarkFlagRequired("lng")
}
