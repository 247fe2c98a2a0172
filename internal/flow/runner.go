package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/voxform/voxform/internal/models"
)

// SpeechRenderer renders one utterance as speech. Defined here to avoid
// import cycles; the speech package provides implementations.
type SpeechRenderer interface {
	Render(ctx context.Context, text, languageHint string) error
}

// TranscriptCapturer produces one captured transcript per suspension point.
type TranscriptCapturer interface {
	Capture(ctx context.Context) (string, error)
}

// Run drives the session to completion against blocking speech
// collaborators: speak, capture, submit, repeat. Each round trip is strictly
// sequential. A cancelled context abandons the session; a capture failure is
// treated as an empty transcript and routed through normal validation.
func (s *Session) Run(ctx context.Context, renderer SpeechRenderer, capturer TranscriptCapturer) error {
	utts, done := s.Prompt()
	for {
		for _, u := range utts {
			if err := renderer.Render(ctx, u.Text, ""); err != nil {
				// Rendering failure degrades to silence; it never stalls the flow.
				slog.Warn("flow.Session.Run: speech render failed", "session", s.id, "kind", u.Kind, "error", err)
			}
		}
		if done {
			slog.Info("flow.Session.Run: session complete", "session", s.id)
			return nil
		}
		if err := ctx.Err(); err != nil {
			s.Close()
			return err
		}

		transcript, err := capturer.Capture(ctx)
		if err != nil {
			slog.Warn("flow.Session.Run: capture failed, submitting empty transcript", "session", s.id, "error", err)
			transcript = ""
		}

		utts, err = s.Submit(ctx, transcript)
		if err != nil {
			if errors.Is(err, models.ErrSessionClosed) {
				return nil
			}
			return err
		}
		_, done = s.Prompt()
	}
}
