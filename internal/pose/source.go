package pose

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
)

const maxLineSize = 4 << 20

// JSONLSource replays a recorded keypoint stream: one pose document per line
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
	// Used when a document carries no frame size
	defaultWidth  float64
	defaultHeight float64
}

// NewJSONLSource creates source reading from r. Frame size defaults apply to documents without width/height
func NewJSONLSource(r io.Reader, defaultWidth, defaultHeight float64) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &JSONLSource{
		scanner:       scanner,
		defaultWidth:  defaultWidth,
		defaultHeight: defaultHeight,
	}
}

// Next returns next frame, skipping blank lines
func (src *JSONLSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !src.scanner.Scan() {
			if err := src.scanner.Err(); err != nil {
				return Frame{}, errors.Wrapf(err, "Can't read line %d", src.line+1)
			}
			return Frame{}, io.EOF
		}
		src.line++
		data := src.scanner.Bytes()
		if len(data) == 0 || isBlank(data) {
			continue
		}
		frame, err := DecodePoses(data)
		if err != nil {
			return Frame{}, errors.Wrapf(err, "line %d", src.line)
		}
		if frame.Width == 0 {
			frame.Width = src.defaultWidth
		}
		if frame.Height == 0 {
			frame.Height = src.defaultHeight
		}
		return frame, nil
	}
}

func isBlank(data []byte) bool {
	for _, b := range data {
		if b != ' ' && b != '\t' && b != '\r' {
			return false
		}
	}
	return true
}
