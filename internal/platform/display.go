package platform

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/kbinani/screenshot"

	"github.com/replay-capture/replay-capture/internal/capture"
)

// DisplayProvider captures a whole display.
type DisplayProvider struct {
	// Display is the index of the captured display.
	Display int
	// ScreenName is reported with every screenshot. Defaults to "display-<n>".
	ScreenName string
	// Masks are painted over, in display coordinates, when redacting.
	Masks []image.Rectangle
}

// Capture grabs the display and applies the redaction masks.
func (p *DisplayProvider) Capture(ctx context.Context, redact bool) (capture.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return capture.Screenshot{}, err
	}
	if p.Display >= screenshot.NumActiveDisplays() {
		return capture.Screenshot{}, fmt.Errorf("%w: %d", ErrNoDisplay, p.Display)
	}

	img, err := screenshot.CaptureDisplay(p.Display)
	if err != nil {
		return capture.Screenshot{}, fmt.Errorf("failed to capture display %d: %w", p.Display, err)
	}
	if redact {
		Redact(img, screenshot.GetDisplayBounds(p.Display).Min, p.Masks)
	}

	name := p.ScreenName
	if name == "" {
		name = fmt.Sprintf("display-%d", p.Display)
	}
	return capture.Screenshot{Image: img, ScreenName: name}, nil
}

// Redact paints every mask, given in coordinates relative to origin, black.
func Redact(img draw.Image, origin image.Point, masks []image.Rectangle) {
	for _, m := range masks {
		r := m.Sub(origin).Add(img.Bounds().Min).Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		draw.Draw(img, r, image.Black, image.Point{}, draw.Src)
	}
}
