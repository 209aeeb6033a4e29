package poller

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/framewatch/internal/log"
	"github.com/teslashibe/framewatch/pkg/analysis"
	"github.com/teslashibe/framewatch/pkg/analysis/analysistest"
	"github.com/teslashibe/framewatch/pkg/resource"
	"github.com/teslashibe/framewatch/pkg/sampler"
)

func TestEndToEnd_AgainstAnalysisService(t *testing.T) {
	srv := analysistest.NewServer()
	defer srv.Close()

	client, err := analysis.NewClient(
		analysis.WithEndpoint(srv.AnalyzeURL()),
		analysis.WithRefreshEndpoint(srv.RefreshURL()),
		analysis.WithLogger(log.Discard()),
	)
	require.NoError(t, err)
	defer client.Close()

	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 200, G: 30, B: 90, A: 255}}, image.Point{}, draw.Src)
	smp := sampler.New(sampler.NewImageSource(img), sampler.WithLogger(log.Discard()))

	reg := resource.NewRegistry()
	o, err := New(smp, client, reg, WithLogger(log.Discard()), WithHistorySize(5))
	require.NoError(t, err)
	ctx := context.Background()

	// first frame of a session is described
	require.NoError(t, o.Cycle(ctx))
	snap := o.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Contains(t, snap.Status, "status: success")
	assert.Contains(t, snap.History[0].Caption, "took 0.25 seconds\nA frame")

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "frame0.png", reqs[0].Filename)
	assert.Equal(t, "image/png", reqs[0].ContentType)

	// the same scene again is indifferent: preview only
	require.NoError(t, o.Cycle(ctx))
	snap = o.Snapshot()
	assert.Equal(t, "status: indifferent\n\n[frame 640x360]", snap.Status)
	assert.Len(t, snap.History, 1)
	assert.Equal(t, 2, reg.Outstanding())

	// an unknown status is a protocol violation and changes nothing
	srv.Enqueue(analysistest.Reply{Status: "great"})
	assert.ErrorIs(t, o.Cycle(ctx), analysis.ErrInvalidStatus)
	assert.Equal(t, snap.Status, o.Snapshot().Status)

	// a failing service changes nothing either
	srv.Enqueue(analysistest.Reply{Code: 503})
	assert.ErrorIs(t, o.Cycle(ctx), analysis.ErrTransport)
	assert.Len(t, o.Snapshot().History, 1)

	// refresh forgets the session and clears the dashboard
	require.NoError(t, o.Refresh(ctx))
	assert.Equal(t, 1, srv.Refreshes())
	assert.Empty(t, o.Snapshot().History)
	assert.Equal(t, 0, reg.Outstanding())

	// a fresh session describes the scene again
	require.NoError(t, o.Cycle(ctx))
	assert.Len(t, o.Snapshot().History, 1)

	all := srv.Requests()
	assert.NotEqual(t, all[0].User, all[len(all)-1].User)
}
