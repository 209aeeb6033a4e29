// Package frame defines the still image payload passed between the sampler,
// the orchestrator and the analysis client.
package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for server-returned JPEGs
	_ "image/png"
)

// Media types produced and understood by framewatch.
const (
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
)

// Frame is an encoded still image.
//
// A Frame is owned by whichever component currently holds it. Once handed off
// (sampler -> orchestrator -> client) the previous holder must not keep it.
type Frame struct {
	Name      string // unique within the producing component, e.g. "frame3.png"
	MediaType string
	Data      []byte
	Seq       uint64

	// Width and Height are zero when unknown (e.g. server-returned images
	// that were not decoded).
	Width  int
	Height int
}

// Size returns the payload size in bytes.
func (f *Frame) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Decode decodes the payload into an image.
func (f *Frame) Decode() (image.Image, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("frame: empty payload")
	}
	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("frame %s: decode: %w", f.Name, err)
	}
	return img, nil
}

func (f *Frame) String() string {
	if f == nil {
		return "<nil frame>"
	}
	if f.Width > 0 {
		return fmt.Sprintf("%s (%s, %dx%d, %d bytes)", f.Name, f.MediaType, f.Width, f.Height, len(f.Data))
	}
	return fmt.Sprintf("%s (%s, %d bytes)", f.Name, f.MediaType, len(f.Data))
}
