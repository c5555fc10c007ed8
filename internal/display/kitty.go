package display

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manash/stylist/pkg/models"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// ErrUnsupportedFormat is returned for payloads the kitty protocol cannot
// transmit directly. Only PNG is sent as-is.
var ErrUnsupportedFormat = errors.New("terminal graphics only support PNG images")

type KittyEncoder struct {
	out  io.Writer
	cols int
}

// NewKittyEncoder writes to out. cols > 0 scales the image to that many
// terminal columns.
func NewKittyEncoder(out io.Writer, cols int) *KittyEncoder {
	return &KittyEncoder{out: out, cols: cols}
}

func (e *KittyEncoder) Encode(img models.EncodedImage) error {
	if img.IsZero() {
		return nil
	}
	if mt := img.MediaType(); mt != "" && !strings.EqualFold(mt, "image/png") {
		return fmt.Errorf("%w: got %s", ErrUnsupportedFormat, mt)
	}

	encoded := img.Base64()

	if len(encoded) <= chunkSize {
		return e.writeSingle(encoded)
	}

	return e.writeChunked(encoded)
}

func (e *KittyEncoder) header() string {
	if e.cols > 0 {
		return fmt.Sprintf("a=T,f=100,q=2,c=%d", e.cols)
	}
	return "a=T,f=100,q=2"
}

func (e *KittyEncoder) writeSingle(encoded string) error {
	_, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, e.header(), encoded, escapeEnd)
	return err
}

func (e *KittyEncoder) writeChunked(encoded string) error {
	chunks := splitIntoChunks(encoded, chunkSize)

	for i, chunk := range chunks {
		var params string
		switch {
		case i == 0:
			params = e.header() + ",m=1"
		case i == len(chunks)-1:
			params = "m=0"
		default:
			params = "m=1"
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}

	return nil
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n := min(size, len(s))
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
