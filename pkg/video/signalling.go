package video

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Signalling message types of the GStreamer webrtcsink protocol.
const (
	msgWelcome        = "welcome"
	msgList           = "list"
	msgStartSession   = "startSession"
	msgSessionStarted = "sessionStarted"
	msgPeer           = "peer"
	msgEndSession     = "endSession"
)

type envelope struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type listResponse struct {
	Type      string     `json:"type"`
	Producers []producer `json:"producers"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

type peerMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	SDP       *sdpPayload `json:"sdp,omitempty"`
	ICE       *icePayload `json:"ice,omitempty"`
}

func parseWelcome(msg []byte) (string, error) {
	var w envelope
	if err := json.Unmarshal(msg, &w); err != nil {
		return "", fmt.Errorf("decode welcome: %w", err)
	}
	if w.Type != msgWelcome {
		return "", fmt.Errorf("expected welcome, got %q", w.Type)
	}
	if w.PeerID == "" {
		return "", fmt.Errorf("welcome without peer id")
	}
	return w.PeerID, nil
}

// findProducer returns the ID of the producer whose meta name is name.
func findProducer(msg []byte, name string) (string, error) {
	var list listResponse
	if err := json.Unmarshal(msg, &list); err != nil {
		return "", fmt.Errorf("decode producer list: %w", err)
	}
	for _, p := range list.Producers {
		if p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q not among %d producers", ErrProducerNotFound, name, len(list.Producers))
}

func (m *peerMessage) offer() (webrtc.SessionDescription, bool) {
	if m.SDP == nil || m.SDP.Type != "offer" {
		return webrtc.SessionDescription{}, false
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP.SDP}, true
}

func (m *peerMessage) candidate() (webrtc.ICECandidateInit, bool) {
	if m.ICE == nil || m.ICE.Candidate == "" {
		return webrtc.ICECandidateInit{}, false
	}
	return webrtc.ICECandidateInit{
		Candidate:     m.ICE.Candidate,
		SDPMid:        m.ICE.SDPMid,
		SDPMLineIndex: m.ICE.SDPMLineIndex,
	}, true
}

func answerMessage(sessionID string, sdp webrtc.SessionDescription) peerMessage {
	return peerMessage{
		Type:      msgPeer,
		SessionID: sessionID,
		SDP:       &sdpPayload{Type: sdp.Type.String(), SDP: sdp.SDP},
	}
}

func candidateMessage(sessionID string, init webrtc.ICECandidateInit) peerMessage {
	return peerMessage{
		Type:      msgPeer,
		SessionID: sessionID,
		ICE: &icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		},
	}
}
