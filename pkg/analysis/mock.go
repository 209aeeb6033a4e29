package analysis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/framewatch/pkg/frame"
)

// Mock implements the client surface used by the poller, for testing.
type Mock struct {
	// SubmitFunc is called when Submit is invoked.
	SubmitFunc func(ctx context.Context, f *frame.Frame) (*Outcome, error)

	// RefreshFunc is called when Refresh is invoked.
	RefreshFunc func(ctx context.Context) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Frame  string // frame name for Submit
	Time   time.Time
}

// NewMock creates a mock that answers every frame with a success outcome
// echoing the frame back as the image.
func NewMock() *Mock {
	m := &Mock{}
	var seq uint64
	m.SubmitFunc = func(ctx context.Context, f *frame.Frame) (*Outcome, error) {
		m.mu.Lock()
		n := seq
		seq++
		m.mu.Unlock()
		return &Outcome{
			Image:       &frame.Frame{Name: "decodedImage" + strconv.FormatUint(n, 10) + ".png", MediaType: frame.MediaTypePNG, Data: append([]byte(nil), f.Data...), Seq: n},
			Status:      StatusSuccess,
			Detections:  "[]",
			Description: "Mock description",
			Elapsed:     0.5,
		}, nil
	}
	m.RefreshFunc = func(ctx context.Context) error { return nil }
	return m
}

// Submit calls SubmitFunc and records the call.
func (m *Mock) Submit(ctx context.Context, f *frame.Frame) (*Outcome, error) {
	name := ""
	if f != nil {
		name = f.Name
	}
	m.record("Submit", name)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, f)
	}
	return nil, &TransportError{StatusCode: 503, Endpoint: "mock"}
}

// Refresh calls RefreshFunc and records the call.
func (m *Mock) Refresh(ctx context.Context) error {
	m.record("Refresh", "")
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return ErrNoRefreshEndpoint
}

func (m *Mock) record(method, frameName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Frame: frameName, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithOutcomes returns a mock that answers with the given outcomes in order,
// then with a transport error once they run out.
func WithOutcomes(outcomes ...*Outcome) *Mock {
	m := &Mock{}
	var mu sync.Mutex
	m.SubmitFunc = func(ctx context.Context, f *frame.Frame) (*Outcome, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(outcomes) == 0 {
			return nil, &TransportError{StatusCode: 503, Endpoint: "mock"}
		}
		o := outcomes[0]
		outcomes = outcomes[1:]
		return o, nil
	}
	m.RefreshFunc = func(ctx context.Context) error { return nil }
	return m
}

// WithError returns a mock whose Submit always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SubmitFunc: func(ctx context.Context, f *frame.Frame) (*Outcome, error) {
			return nil, err
		},
		RefreshFunc: func(ctx context.Context) error {
			return err
		},
	}
}
