package label

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Image is an encoded camera frame.
type Image []byte

// Capturer takes a single picture.
type Capturer interface {
	Capture(ctx context.Context) (Image, error)
}

// Recognizer labels an image. Results may be empty and are in no particular order.
type Recognizer interface {
	Recognize(ctx context.Context, img Image) ([]Candidate, error)
}

var ErrBadLabelSpec = errors.New("bad label spec")

// ParseCandidates reads "word:score,word:score". A word without a score gets 1.0.
func ParseCandidates(spec string) ([]Candidate, error) {
	var out []Candidate
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		text, rawScore, hasScore := strings.Cut(part, ":")
		score := 1.0
		if hasScore {
			s, err := strconv.ParseFloat(strings.TrimSpace(rawScore), 64)
			if err != nil || s < 0 || s > 1 {
				return nil, fmt.Errorf("%w: %q", ErrBadLabelSpec, part)
			}
			score = s
		}
		out = append(out, Candidate{Text: strings.TrimSpace(text), Score: score})
	}
	return out, nil
}

// TypedRecognizer stands in for a camera and a recognition service: the
// "image" is a label spec typed by the player.
type TypedRecognizer struct{}

func (TypedRecognizer) Recognize(_ context.Context, img Image) ([]Candidate, error) {
	return ParseCandidates(string(img))
}

// StaticCapturer returns whatever frame was last loaded into it.
type StaticCapturer struct {
	frames chan Image
}

func NewStaticCapturer() *StaticCapturer {
	return &StaticCapturer{frames: make(chan Image, 1)}
}

// Load replaces the pending frame.
func (c *StaticCapturer) Load(img Image) {
	select {
	case <-c.frames:
	default:
	}
	c.frames <- img
}

func (c *StaticCapturer) Capture(ctx context.Context) (Image, error) {
	select {
	case img := <-c.frames:
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
