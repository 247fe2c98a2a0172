package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// LocalRenderer prints utterances to a writer. Used for the interactive
// console mode and as the degraded fallback when no telephony backend is
// configured.
type LocalRenderer struct {
	w io.Writer
}

// NewLocalRenderer creates a renderer writing to w.
func NewLocalRenderer(w io.Writer) *LocalRenderer {
	return &LocalRenderer{w: w}
}

func (r *LocalRenderer) Render(ctx context.Context, text, languageHint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.w, "assistant> %s\n", text)
	return err
}

// ReaderCapturer reads one line per turn from a reader, standing in for a
// speech-to-text backend in console mode.
type ReaderCapturer struct {
	scanner *bufio.Scanner
}

// NewReaderCapturer creates a capturer reading lines from r.
func NewReaderCapturer(r io.Reader) *ReaderCapturer {
	return &ReaderCapturer{scanner: bufio.NewScanner(r)}
}

func (c *ReaderCapturer) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(c.scanner.Text()), nil
}
