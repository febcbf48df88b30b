// internal/service/transmission/prompt.go

package transmission

import (
	"fmt"
	"strings"

	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
	geoService "latent/internal/service/geo"
)

// AnchorReference places an anchor relative to the observer
type AnchorReference struct {
	Title          string
	DistanceMeters float64
	Bearing        float64
}

// PromptContext is everything the text generator is told about one cycle
type PromptContext struct {
	Observer geo.Coordinates
	Phantom  geo.PhantomLocation
	Anchors  []AnchorReference
	Style    transmission.Style
}

// NewPromptContext builds the context for a cycle. anchors must already be
// nearest first; at most MaxPhantomAnchors are referenced.
func NewPromptContext(observer geo.Position, phantom geo.PhantomLocation, anchors []geo.Anchor, style transmission.Style) PromptContext {
	origin := observer.Coordinates()

	n := len(anchors)
	if n > geo.MaxPhantomAnchors {
		n = geo.MaxPhantomAnchors
	}

	refs := make([]AnchorReference, 0, n)
	for _, a := range anchors[:n] {
		refs = append(refs, AnchorReference{
			Title:          a.Title,
			DistanceMeters: a.DistanceMeters,
			Bearing:        geoService.Bearing(origin, a.Coordinates()),
		})
	}

	return PromptContext{
		Observer: origin,
		Phantom:  phantom,
		Anchors:  refs,
		Style:    style,
	}
}

// Instruction renders the context into the natural-language instruction
// sent to the text generator
func (c PromptContext) Instruction() (string, error) {
	direction, err := Instruction(c.Style)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are the voice of a place that is not on any map.\n")
	fmt.Fprintf(&b, "The listener stands at %.5f, %.5f.\n", c.Observer.Latitude, c.Observer.Longitude)
	fmt.Fprintf(&b, "A phantom location has surfaced at %.5f, %.5f, drifting %.1f units from the documented world.\n",
		c.Phantom.Latitude, c.Phantom.Longitude, c.Phantom.DriftMagnitude)

	if len(c.Anchors) == 0 {
		b.WriteString("No documented places are nearby. The surroundings are unrecorded.\n")
	} else {
		b.WriteString("Documented places nearby:\n")
		for _, a := range c.Anchors {
			fmt.Fprintf(&b, "- %s, %.0f m to the %s (%.0f°)\n",
				a.Title, a.DistanceMeters, geoService.CompassPoint(a.Bearing), a.Bearing)
		}
	}

	fmt.Fprintf(&b, "Register: %s. %s\n", c.Style, direction)
	b.WriteString("Mention at most one documented place by name. Do not explain or introduce the text. ")
	b.WriteString("Output only the transmission.")

	return b.String(), nil
}
