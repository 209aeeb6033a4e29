package video

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/framewatch/internal/log"
	"github.com/teslashibe/framewatch/pkg/sampler"
)

func TestParseWelcome(t *testing.T) {
	id, err := parseWelcome([]byte(`{"type":"welcome","peerId":"abc-123"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)

	_, err = parseWelcome([]byte(`{"type":"list"}`))
	assert.Error(t, err)

	_, err = parseWelcome([]byte(`{"type":"welcome"}`))
	assert.Error(t, err)
}

func TestFindProducer(t *testing.T) {
	msg := []byte(`{"type":"list","producers":[
		{"id":"p1","meta":{"name":"other"}},
		{"id":"p2","meta":{"name":"framewatch"}}
	]}`)

	id, err := findProducer(msg, "framewatch")
	require.NoError(t, err)
	assert.Equal(t, "p2", id)

	_, err = findProducer(msg, "missing")
	assert.ErrorIs(t, err, ErrProducerNotFound)
}

func TestPeerMessage(t *testing.T) {
	var offer peerMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"peer","sessionId":"s1","sdp":{"type":"offer","sdp":"v=0"}}`), &offer))
	desc, ok := offer.offer()
	require.True(t, ok)
	assert.Equal(t, webrtc.SDPTypeOffer, desc.Type)
	assert.Equal(t, "v=0", desc.SDP)
	_, ok = offer.candidate()
	assert.False(t, ok)

	var ice peerMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"peer","sessionId":"s1","ice":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}}`), &ice))
	init, ok := ice.candidate()
	require.True(t, ok)
	assert.Equal(t, "candidate:1", init.Candidate)
	require.NotNil(t, init.SDPMid)
	assert.Equal(t, "0", *init.SDPMid)

	answer := answerMessage("s1", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	data, err := json.Marshal(answer)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"peer","sessionId":"s1","sdp":{"type":"answer","sdp":"v=0"}}`, string(data))
}

// fakeSignalling serves the welcome and list steps of the handshake.
func fakeSignalling(t *testing.T, producers string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]string{"type": "welcome", "peerId": "consumer-0001"})

		var req envelope
		if err := conn.ReadJSON(&req); err != nil || req.Type != msgList {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"list","producers":`+producers+`}`))

		// hold the socket until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandshake(t *testing.T) {
	srv := fakeSignalling(t, `[{"id":"producer-42","meta":{"name":"framewatch"}}]`)
	c := NewClient(Config{SignallingURL: wsURL(srv), Logger: log.Discard(), ConnectTimeout: 2 * time.Second})
	defer c.Close()

	require.NoError(t, c.handshake(context.Background()))
	assert.Equal(t, "consumer-0001", c.peerID)
	assert.Equal(t, "producer-42", c.prodID)
}

func TestHandshake_ProducerMissing(t *testing.T) {
	srv := fakeSignalling(t, `[]`)
	c := NewClient(Config{SignallingURL: wsURL(srv), Logger: log.Discard(), ConnectTimeout: 2 * time.Second})
	defer c.Close()

	err := c.handshake(context.Background())
	assert.ErrorIs(t, err, ErrProducerNotFound)
}

func TestConnect_Unreachable(t *testing.T) {
	c := NewClient(Config{SignallingURL: "ws://127.0.0.1:1", Logger: log.Discard(), ConnectTimeout: time.Second})
	defer c.Close()

	assert.Error(t, c.Connect(context.Background()))
}

func nalPacket(marker bool, nal ...byte) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Marker: marker}, Payload: nal}
}

func TestAssembler(t *testing.T) {
	var a assembler

	// nothing is buffered before the first parameter sets
	assert.False(t, a.push(nalPacket(true, 0x65, 0x88, 0x84)))
	assert.Empty(t, a.stream())

	assert.False(t, a.push(nalPacket(false, 0x67, 0x42, 0xc0, 0x1f)))
	assert.False(t, a.push(nalPacket(false, 0x68, 0xce, 0x3c, 0x80)))
	assert.False(t, a.push(nalPacket(false, 0x65, 0x88, 0x84, 0x00)), "keyframe not complete without marker")
	assert.True(t, a.push(nalPacket(true, 0x65, 0x00, 0x10, 0x20)))

	assert.Equal(t, []byte{nalSPS, nalPPS, nalIDR, nalIDR}, nalTypes(a.stream()))

	// a new SPS starts a new group
	assert.False(t, a.push(nalPacket(false, 0x67, 0x42, 0xc0, 0x1f)))
	assert.Equal(t, []byte{nalSPS}, nalTypes(a.stream()))
}

func TestAssembler_GroupReportedOnce(t *testing.T) {
	var a assembler

	assert.False(t, a.push(nalPacket(false, 0x67, 0x42, 0xc0, 0x1f)))
	assert.False(t, a.push(nalPacket(false, 0x68, 0xce, 0x3c, 0x80)))
	require.True(t, a.push(nalPacket(true, 0x65, 0x88, 0x84, 0x00)))
	keyframe := a.stream()

	// predicted pictures after the keyframe are neither due nor buffered
	assert.False(t, a.push(nalPacket(true, 0x41, 0x9a, 0x01)))
	assert.False(t, a.push(nalPacket(true, 0x41, 0x9a, 0x02)))
	assert.Equal(t, keyframe, a.stream())

	// a keyframe without parameter sets reuses the previous ones
	require.True(t, a.push(nalPacket(true, 0x65, 0x11, 0x22, 0x33)))
	assert.Equal(t, []byte{nalSPS, nalPPS, nalIDR}, nalTypes(a.stream()))
	assert.NotEqual(t, keyframe, a.stream())
	assert.False(t, a.push(nalPacket(true, 0x41, 0x9a, 0x03)))

	// fresh parameter sets start a new group
	assert.False(t, a.push(nalPacket(false, 0x67, 0x42, 0xc0, 0x1f)))
	assert.False(t, a.push(nalPacket(false, 0x68, 0xce, 0x3c, 0x80)))
	assert.True(t, a.push(nalPacket(true, 0x65, 0x44, 0x55, 0x66)))
}

func TestClient_Accept(t *testing.T) {
	c := NewClient(Config{Logger: log.Discard(), DecodeInterval: time.Hour})
	var a assembler

	assert.False(t, c.accept(&a, nalPacket(false, 0x67, 0x42, 0xc0, 0x1f), time.Time{}))
	assert.False(t, c.accept(&a, nalPacket(false, 0x68, 0xce, 0x3c, 0x80), time.Time{}))
	assert.True(t, c.accept(&a, nalPacket(true, 0x65, 0x88, 0x84, 0x00), time.Time{}))

	// the next group arrives before the interval elapsed
	assert.False(t, c.accept(&a, nalPacket(true, 0x65, 0x11, 0x22, 0x33), time.Now()))
}

func TestKeyframeRequest(t *testing.T) {
	pkts := keyframeRequest(0xcafe)
	require.Len(t, pkts, 1)
	pli, ok := pkts[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(0xcafe), pli.MediaSSRC)
	assert.Equal(t, []uint32{0xcafe}, pli.DestinationSSRC())
}

func TestNalTypes(t *testing.T) {
	stream := []byte{
		0, 0, 0, 1, 0x67, 0x42,
		0, 0, 1, 0x68, 0xce,
		0, 0, 0, 1, 0x41, 0x9a,
	}
	assert.Equal(t, []byte{7, 8, 1}, nalTypes(stream))
	assert.Empty(t, nalTypes([]byte{1, 2, 3}))
}

func fill(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestIsGrayPicture(t *testing.T) {
	assert.True(t, isGrayPicture(fill(320, 240, color.RGBA{A: 255})), "black")
	assert.True(t, isGrayPicture(fill(320, 240, color.RGBA{R: 128, G: 128, B: 128, A: 255})), "mid gray")
	assert.True(t, isGrayPicture(fill(4, 4, color.RGBA{R: 200, A: 255})), "too small")
	assert.False(t, isGrayPicture(fill(320, 240, color.RGBA{R: 200, G: 80, B: 40, A: 255})))
}

func TestDecoder_ShortInput(t *testing.T) {
	_, err := NewDecoder().Decode(context.Background(), []byte{0, 0, 0, 1, 0x67})
	assert.True(t, errors.Is(err, ErrNoPicture))
}

func TestClient_Source(t *testing.T) {
	c := NewClient(Config{Logger: log.Discard()})
	s := sampler.New(c, sampler.WithLogger(log.Discard()))

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, sampler.ErrCaptureUnavailable, "no picture before the first decode")

	c.setPicture(fill(1280, 720, color.RGBA{R: 200, G: 80, B: 40, A: 255}))

	w, h, err := c.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	f, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 640, f.Width)
	assert.Equal(t, 360, f.Height)
}
