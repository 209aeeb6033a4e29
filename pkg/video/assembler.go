package video

import (
	"bytes"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// H264 NAL unit types.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

// maxGroupBytes caps a buffered group of pictures.
const maxGroupBytes = 8 << 20

// assembler depacketizes H264 RTP payloads into an Annex-B byte stream
// beginning at the most recent parameter sets, so it can be decoded on its
// own. Only the keyframe access unit of each group is kept: once it is
// complete, later pictures are dropped until the next parameter sets.
type assembler struct {
	depacketizer codecs.H264Packet
	buf          bytes.Buffer
	params       []byte
	hasSPS       bool
	hasIDR       bool
	complete     bool
}

// push adds one RTP packet. It reports true exactly once per group, when the
// keyframe access unit following the parameter sets is complete.
func (a *assembler) push(pkt *rtp.Packet) bool {
	nal, err := a.depacketizer.Unmarshal(pkt.Payload)
	if err != nil || len(nal) == 0 {
		return false
	}

	for _, t := range nalTypes(nal) {
		switch t {
		case nalSPS:
			// A new group starts at its parameter sets.
			a.buf.Reset()
			a.params = a.params[:0]
			a.hasSPS = true
			a.hasIDR = false
			a.complete = false
		case nalIDR:
			if a.complete {
				// keyframe sent without fresh parameter sets
				a.buf.Reset()
				a.buf.Write(a.params)
				a.complete = false
			}
			a.hasIDR = true
		}
	}

	if !a.hasSPS || a.complete {
		return false
	}
	if a.buf.Len()+len(nal) > maxGroupBytes {
		a.reset()
		return false
	}
	if !a.hasIDR {
		a.params = append(a.params, nal...)
	}
	a.buf.Write(nal)

	if pkt.Marker && a.hasIDR {
		a.complete = true
	}
	return a.complete
}

// stream returns a copy of the buffered Annex-B stream.
func (a *assembler) stream() []byte {
	return bytes.Clone(a.buf.Bytes())
}

func (a *assembler) reset() {
	a.buf.Reset()
	a.params = a.params[:0]
	a.hasSPS = false
	a.hasIDR = false
	a.complete = false
}

// nalTypes returns the types of the NAL units in an Annex-B stream.
func nalTypes(annexB []byte) []byte {
	var types []byte
	for i := 0; i+3 < len(annexB); i++ {
		if annexB[i] != 0 || annexB[i+1] != 0 {
			continue
		}
		switch {
		case annexB[i+2] == 1:
			types = append(types, annexB[i+3]&0x1f)
			i += 2
		case annexB[i+2] == 0 && i+4 < len(annexB) && annexB[i+3] == 1:
			types = append(types, annexB[i+4]&0x1f)
			i += 3
		}
	}
	return types
}
