package analysis

import (
	"fmt"
	"time"

	"github.com/teslashibe/framewatch/pkg/frame"
)

// Status is the analysis service's verdict for one frame.
type Status string

// Known statuses. Anything else is a protocol violation.
const (
	// StatusSuccess means the frame was analyzed and described.
	StatusSuccess Status = "success"

	// StatusIndifferent means nothing changed since the previous frame.
	StatusIndifferent Status = "indifferent"

	// StatusBusy means the service skipped the frame.
	StatusBusy Status = "busy"
)

// ParseStatus validates a wire status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusSuccess, StatusIndifferent, StatusBusy:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) String() string { return string(s) }

// Outcome is the decoded result of one Submit.
type Outcome struct {
	// Image is the server-returned image, owned by the caller.
	Image *frame.Frame

	Status      Status
	Detections  string
	Description string

	// Elapsed is the server-reported analysis time in seconds.
	Elapsed float64
}

// ElapsedDuration returns Elapsed as a time.Duration.
func (o *Outcome) ElapsedDuration() time.Duration {
	return time.Duration(o.Elapsed * float64(time.Second))
}

// response is the wire format of the analyze endpoint.
type response struct {
	Image       string  `json:"image"`
	Status      string  `json:"status"`
	Detections  string  `json:"detections"`
	Description string  `json:"description"`
	Time        float64 `json:"time"`
}
