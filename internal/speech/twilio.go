package speech

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Opts holds configuration options for the Twilio voice renderer.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	Voice      string
}

// Option defines a configuration option for the Twilio voice renderer.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID instead of the environment value.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token instead of the environment value.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the outbound caller number in E.164 format.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithTo sets the callee number in E.164 format.
func WithTo(to string) Option {
	return func(o *Opts) { o.To = to }
}

// WithVoice overrides the TTS voice name.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// callCreator is the slice of the Twilio REST surface the renderer touches.
type callCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioRenderer speaks each utterance over an outbound call leg using a
// TwiML Say verb.
type TwilioRenderer struct {
	api   callCreator
	from  string
	to    string
	voice string
}

// NewTwilioRenderer creates a renderer from options, falling back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioRenderer(opts ...Option) (*TwilioRenderer, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if cfg.To == "" {
		return nil, fmt.Errorf("to number must be provided")
	}
	if cfg.Voice == "" {
		cfg.Voice = "Polly.Joanna"
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioRenderer{api: client.Api, from: cfg.From, to: cfg.To, voice: cfg.Voice}, nil
}

func (r *TwilioRenderer) Render(ctx context.Context, text, languageHint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(r.to)
	params.SetFrom(r.from)
	params.SetTwiml(sayTwiML(text, r.voice, languageHint))

	_, err := r.api.CreateCall(params)
	if err != nil {
		slog.Error("speech.TwilioRenderer.Render: call creation failed", "to", r.to, "error", err)
		return fmt.Errorf("failed to render utterance to %s: %w", r.to, err)
	}
	slog.Debug("speech.TwilioRenderer.Render: utterance rendered", "to", r.to, "chars", len(text))
	return nil
}

// sayTwiML builds a minimal Say document with the utterance XML-escaped.
func sayTwiML(text, voice, languageHint string) string {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(text))

	lang := ""
	if languageHint != "" {
		lang = fmt.Sprintf(" language=%q", languageHint)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Say voice=%q%s>%s</Say>
</Response>`, voice, lang, escaped.String())
}
