// Package speech abstracts the audio boundary of a session: rendering
// utterances as speech and capturing one transcript per turn. The flow
// controller only ever sees text on both sides.
package speech

import "context"

// Renderer speaks one utterance. The optional language hint is a BCP 47 tag
// such as "en-US"; implementations may ignore it.
type Renderer interface {
	Render(ctx context.Context, text, languageHint string) error
}

// Capturer blocks until one transcript is available. A capture failure is
// reported as an error; the flow treats it like silence.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// FallbackRenderer tries the primary renderer and falls back to the
// secondary when it fails.
type FallbackRenderer struct {
	primary   Renderer
	secondary Renderer
}

// NewFallbackRenderer wraps two renderers into a degrading pair.
func NewFallbackRenderer(primary, secondary Renderer) *FallbackRenderer {
	return &FallbackRenderer{primary: primary, secondary: secondary}
}

func (r *FallbackRenderer) Render(ctx context.Context, text, languageHint string) error {
	if err := r.primary.Render(ctx, text, languageHint); err != nil {
		return r.secondary.Render(ctx, text, languageHint)
	}
	return nil
}
