// Package analysis is the client side of the remote frame analysis service.
//
// One Submit is one round trip: the frame is posted as multipart form data
// (field "file"), and the JSON answer is decoded into an Outcome:
//
//	{"image": "<base64>", "status": "success", "detections": "...",
//	 "description": "...", "time": 1.42}
//
// The client validates the status but does not interpret it.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"

	"github.com/teslashibe/framewatch/internal/httpc"
	"github.com/teslashibe/framewatch/pkg/frame"
)

// FormField is the multipart field carrying the image.
const FormField = "file"

// maxResponseSize bounds the JSON body (base64 images included).
const maxResponseSize = 32 << 20

// Client submits frames to the analysis service.
type Client struct {
	endpoint        string
	refreshEndpoint string
	http            *http.Client
	logger          *slog.Logger

	seq atomic.Uint64
}

// NewClient creates a new analysis client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		var err error
		hc, err = httpc.NewSessionClient(cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:        cfg.Endpoint,
		refreshEndpoint: cfg.RefreshEndpoint,
		http:            hc,
		logger:          logger.With("component", "analysis.client"),
	}, nil
}

// Submit sends f to the analyze endpoint and decodes the answer.
// The client does not keep f after Submit returns.
func (c *Client) Submit(ctx context.Context, f *frame.Frame) (*Outcome, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("analysis: empty frame")
	}

	body, contentType, err := encodeMultipart(f)
	if err != nil {
		return nil, fmt.Errorf("analysis: encode %s: %w", f.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("analysis: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("POST analyze", "endpoint", c.endpoint, "frame", f.Name, "bytes", f.Size())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis: POST %s: %w", c.endpoint, err)
	}
	defer drainAndClose(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return nil, &TransportError{StatusCode: resp.StatusCode, Endpoint: c.endpoint}
	}

	var r response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrMalformedResponse, err)
	}

	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	img, err := c.decodeImage(r.Image)
	if err != nil {
		return nil, err
	}

	c.logger.Info("analysis outcome",
		"status", status,
		"detections", r.Detections,
		"description", r.Description,
		"time", r.Time,
	)

	return &Outcome{
		Image:       img,
		Status:      status,
		Detections:  r.Detections,
		Description: r.Description,
		Elapsed:     r.Time,
	}, nil
}

// Refresh asks the service to forget this session's state.
func (c *Client) Refresh(ctx context.Context) error {
	if c.refreshEndpoint == "" {
		return ErrNoRefreshEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshEndpoint, nil)
	if err != nil {
		return fmt.Errorf("analysis: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("analysis: POST %s: %w", c.refreshEndpoint, err)
	}
	defer drainAndClose(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return &TransportError{StatusCode: resp.StatusCode, Endpoint: c.refreshEndpoint}
	}

	c.logger.Info("analysis session refreshed", "endpoint", c.refreshEndpoint)
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// decodeImage turns the base64 payload into a new frame with a fresh name.
func (c *Client) decodeImage(b64 string) (*frame.Frame, error) {
	if b64 == "" {
		return nil, fmt.Errorf("%w: missing image", ErrMalformedResponse)
	}
	// Tolerate data URLs.
	if i := strings.Index(b64, ";base64,"); i >= 0 {
		b64 = b64[i+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: image: %v", ErrMalformedResponse, err)
	}

	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = frame.MediaTypePNG
	}

	seq := c.seq.Add(1) - 1
	f := &frame.Frame{
		Name:      fmt.Sprintf("decodedImage%d.png", seq),
		MediaType: mediaType,
		Data:      data,
		Seq:       seq,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f, nil
}

func encodeMultipart(f *frame.Frame) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mediaType := f.MediaType
	if mediaType == "" {
		mediaType = frame.MediaTypePNG
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, f.Name))
	h.Set("Content-Type", mediaType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}
