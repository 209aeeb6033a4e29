package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/framewatch/internal/log"
	"github.com/teslashibe/framewatch/pkg/analysis/analysistest"
	"github.com/teslashibe/framewatch/pkg/frame"
)

func pngFrame(t *testing.T, name string, w, h int) *frame.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &frame.Frame{Name: name, MediaType: frame.MediaTypePNG, Data: buf.Bytes(), Width: w, Height: h}
}

func newTestClient(t *testing.T, server *analysistest.Server) *Client {
	t.Helper()
	client, err := NewClient(
		WithEndpoint(server.AnalyzeURL()),
		WithRefreshEndpoint(server.RefreshURL()),
		WithLogger(log.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientSubmit(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	client := newTestClient(t, server)

	out, err := client.Submit(context.Background(), pngFrame(t, "frame0.png", 4, 3))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "[frame 4x3]", out.Detections)
	assert.Equal(t, "A frame [frame 4x3]", out.Description)
	assert.InDelta(t, 0.25, out.Elapsed, 1e-9)

	require.NotNil(t, out.Image)
	assert.Equal(t, "decodedImage0.png", out.Image.Name)
	assert.Equal(t, frame.MediaTypePNG, out.Image.MediaType)
	assert.Equal(t, 4, out.Image.Width)
	assert.Equal(t, 3, out.Image.Height)

	reqs := server.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "frame0.png", reqs[0].Filename)
	assert.Equal(t, frame.MediaTypePNG, reqs[0].ContentType)
}

func TestClientSubmit_KeepsSessionCookie(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	first, err := client.Submit(ctx, pngFrame(t, "frame0.png", 8, 8))
	require.NoError(t, err)
	second, err := client.Submit(ctx, pngFrame(t, "frame1.png", 8, 8))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, StatusIndifferent, second.Status, "same detections in the same session")

	reqs := server.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].User, reqs[1].User)

	assert.Equal(t, "decodedImage0.png", first.Image.Name)
	assert.Equal(t, "decodedImage1.png", second.Image.Name)
}

func TestClientSubmit_TransportFailure(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	server.Enqueue(analysistest.Reply{Code: 502})
	client := newTestClient(t, server)

	out, err := client.Submit(context.Background(), pngFrame(t, "frame0.png", 2, 2))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.False(t, errors.Is(err, ErrInvalidStatus))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 502, te.StatusCode)
	assert.True(t, te.IsServerError())
}

func TestClientSubmit_InvalidStatus(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	server.Enqueue(analysistest.Reply{Status: "great"})
	client := newTestClient(t, server)

	out, err := client.Submit(context.Background(), pngFrame(t, "frame0.png", 2, 2))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrInvalidStatus))
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Contains(t, err.Error(), `"great"`)
}

func TestClientSubmit_MalformedImage(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	server.Enqueue(analysistest.Reply{Status: "busy", RawImage: "!!not-base64!!"})
	client := newTestClient(t, server)

	_, err := client.Submit(context.Background(), pngFrame(t, "frame0.png", 2, 2))
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestClientSubmit_EmptyFrame(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	client := newTestClient(t, server)

	_, err := client.Submit(context.Background(), &frame.Frame{Name: "empty.png"})
	require.Error(t, err)
	assert.Empty(t, server.Requests(), "no request for an empty frame")
}

func TestClientRefresh(t *testing.T) {
	server := analysistest.NewServer()
	defer server.Close()
	client := newTestClient(t, server)
	ctx := context.Background()

	_, err := client.Submit(ctx, pngFrame(t, "frame0.png", 8, 8))
	require.NoError(t, err)

	require.NoError(t, client.Refresh(ctx))
	assert.Equal(t, 1, server.Refreshes())

	// The session was dropped, so the same frame is new again.
	out, err := client.Submit(ctx, pngFrame(t, "frame1.png", 8, 8))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)

	reqs := server.Requests()
	require.Len(t, reqs, 2)
	assert.NotEqual(t, reqs[0].User, reqs[1].User)
}

func TestClientRefresh_NoEndpoint(t *testing.T) {
	client, err := NewClient(WithEndpoint("http://localhost:1/api/analyze"), WithRefreshEndpoint(""))
	require.NoError(t, err)
	assert.ErrorIs(t, client.Refresh(context.Background()), ErrNoRefreshEndpoint)
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(WithEndpoint(""))
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"success", "indifferent", "busy"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, st.String())
	}
	for _, s := range []string{"", "Success", "ok", "failed"} {
		_, err := ParseStatus(s)
		assert.ErrorIs(t, err, ErrInvalidStatus, s)
	}
}
