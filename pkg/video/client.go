// Package video receives a live WebRTC video stream from a GStreamer
// webrtcsink signalling server and exposes its latest picture as a frame
// source.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/framewatch/pkg/sampler"
)

var (
	// ErrProducerNotFound is returned when no producer with the configured
	// name is registered with the signalling server.
	ErrProducerNotFound = errors.New("video: producer not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("video: client closed")
)

// Config configures a Client.
type Config struct {
	// SignallingURL is the websocket URL of the signalling server.
	SignallingURL string

	// Producer is the meta name of the stream to consume.
	Producer string

	// ConnectTimeout bounds the handshake and the wait for the first track.
	ConnectTimeout time.Duration

	// DecodeInterval is the minimum time between two decodes.
	DecodeInterval time.Duration

	// KeyframeInterval is how often the producer is asked for a fresh
	// keyframe. Only keyframes are decoded, so it bounds picture age.
	KeyframeInterval time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a config for a signalling server on localhost.
func DefaultConfig() Config {
	return Config{
		SignallingURL:    "ws://localhost:8443",
		Producer:         "framewatch",
		ConnectTimeout:   15 * time.Second,
		DecodeInterval:   100 * time.Millisecond,
		KeyframeInterval: time.Second,
		Logger:           slog.Default(),
	}
}

// Client consumes one video track. It implements sampler.Source: until the
// first picture is decoded it reports zero dimensions.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	decoder *Decoder

	ws      *websocket.Conn
	wsMu    sync.Mutex
	pc      *webrtc.PeerConnection
	peerID  string
	prodID  string
	session string
	sessMu  sync.RWMutex

	picture  image.Image
	picMu    sync.RWMutex
	decoding atomic.Bool

	trackReady chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

var _ sampler.Source = (*Client)(nil)

// NewClient creates a client. Call Connect to start streaming.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.SignallingURL == "" {
		cfg.SignallingURL = def.SignallingURL
	}
	if cfg.Producer == "" {
		cfg.Producer = def.Producer
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = def.DecodeInterval
	}
	if cfg.KeyframeInterval <= 0 {
		cfg.KeyframeInterval = def.KeyframeInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Client{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "video", "producer", cfg.Producer),
		decoder:    NewDecoder(),
		trackReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Connect performs the signalling handshake, negotiates the peer connection
// and waits for the video track.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.handshake(ctx); err != nil {
		return err
	}
	c.logger.Info("found producer", "peer", short(c.peerID), "producer_id", short(c.prodID))

	if err := c.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}
	if err := c.writeJSON(envelope{Type: msgStartSession, PeerID: c.prodID}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.logger.Info("video track connected")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for video track: %w", ctx.Err())
	case <-c.done:
		return ErrClosed
	}
}

// handshake dials the signalling server, reads the welcome and resolves the
// producer ID.
func (c *Client) handshake(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect: %w", err)
	}
	c.ws = ws

	deadline, _ := ctx.Deadline()
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	_, msg, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if c.peerID, err = parseWelcome(msg); err != nil {
		return err
	}

	if err := c.writeJSON(envelope{Type: msgList}); err != nil {
		return fmt.Errorf("list producers: %w", err)
	}
	_, msg, err = ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read producer list: %w", err)
	}
	c.prodID, err = findProducer(msg, c.cfg.Producer)
	return err
}

func (c *Client) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	c.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		c.sessMu.RLock()
		session := c.session
		c.sessMu.RUnlock()
		if session == "" {
			return
		}
		if err := c.writeJSON(candidateMessage(session, candidate.ToJSON())); err != nil {
			c.logger.Warn("send ice candidate failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state.String())
	})
	return nil
}

func (c *Client) handleSignalling() {
	for {
		var msg peerMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("signalling read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgSessionStarted:
			c.sessMu.Lock()
			c.session = msg.SessionID
			c.sessMu.Unlock()
		case msgPeer:
			c.handlePeerMessage(&msg)
		case msgEndSession:
			c.logger.Info("session ended by producer")
			return
		}
	}
}

func (c *Client) handlePeerMessage(msg *peerMessage) {
	if offer, ok := msg.offer(); ok {
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Error("set remote description failed", "error", err)
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Error("create answer failed", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Error("set local description failed", "error", err)
			return
		}
		if err := c.writeJSON(answerMessage(msg.SessionID, answer)); err != nil {
			c.logger.Error("send answer failed", "error", err)
		}
	}

	if init, ok := msg.candidate(); ok {
		if err := c.pc.AddICECandidate(init); err != nil {
			c.logger.Warn("add ice candidate failed", "error", err)
		}
	}
}

func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.requestKeyframes(uint32(track.SSRC()), stop)

	var asm assembler
	var lastDecode time.Time
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if !c.accept(&asm, pkt, lastDecode) {
			continue
		}
		// one decode at a time, off the read loop
		if !c.decoding.CompareAndSwap(false, true) {
			continue
		}
		lastDecode = time.Now()
		go func(stream []byte) {
			defer c.decoding.Store(false)
			c.decode(stream)
		}(asm.stream())
	}
}

// requestKeyframes sends a picture loss indication every KeyframeInterval so
// the producer keeps emitting fresh keyframes.
func (c *Client) requestKeyframes(ssrc uint32, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeyframeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.pc.WriteRTCP(keyframeRequest(ssrc)); err != nil {
				c.logger.Debug("keyframe request failed", "error", err)
			}
		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

func keyframeRequest(ssrc uint32) []rtcp.Packet {
	return []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}
}

// accept feeds pkt to asm and reports whether a decode is due.
func (c *Client) accept(asm *assembler, pkt *rtp.Packet, lastDecode time.Time) bool {
	if !asm.push(pkt) {
		return false
	}
	return time.Since(lastDecode) >= c.cfg.DecodeInterval
}

func (c *Client) decode(stream []byte) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	img, err := c.decoder.Decode(ctx, stream)
	if err != nil {
		c.logger.Debug("decode skipped", "error", err)
		return
	}
	c.setPicture(img)
}

func (c *Client) setPicture(img image.Image) {
	c.picMu.Lock()
	c.picture = img
	c.picMu.Unlock()
}

// Dimensions implements sampler.Source.
func (c *Client) Dimensions() (int, int, error) {
	c.picMu.RLock()
	defer c.picMu.RUnlock()
	if c.picture == nil {
		return 0, 0, nil
	}
	b := c.picture.Bounds()
	return b.Dx(), b.Dy(), nil
}

// Render implements sampler.Source.
func (c *Client) Render(dst draw.Image) error {
	c.picMu.RLock()
	defer c.picMu.RUnlock()
	if c.picture == nil {
		return errors.New("video: no picture yet")
	}
	sampler.Scale(dst, c.picture)
	return nil
}

// Close tears down the peer connection and the signalling socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.pc != nil {
			err = c.pc.Close()
		}
		if c.ws != nil {
			err = errors.Join(err, c.ws.Close())
		}
	})
	return err
}

func (c *Client) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(v)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
