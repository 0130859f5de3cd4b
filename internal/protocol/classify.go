package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// SignalKind labels an opaque signaling payload for logs and metrics.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalPRAnswer  SignalKind = "pranswer"
	SignalRollback  SignalKind = "rollback"
	SignalCandidate SignalKind = "candidate"
	SignalOther     SignalKind = "other"
)

// ClassifySignal peeks at payload without validating it. Session descriptions
// are recognized by their "type"; ICE candidates either as a bare
// RTCIceCandidateInit or wrapped as {"type":"candidate","candidate":{...}}.
// Classification never affects delivery.
func ClassifySignal(payload json.RawMessage) SignalKind {
	var probe struct {
		Type      string          `json:"type"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return SignalOther
	}

	if t := webrtc.NewSDPType(probe.Type); t != webrtc.SDPTypeUnknown {
		return SignalKind(t.String())
	}

	if len(probe.Candidate) == 0 {
		return SignalOther
	}
	var init webrtc.ICECandidateInit
	src := payload
	if probe.Candidate[0] == '{' {
		src = probe.Candidate
	}
	if err := json.Unmarshal(src, &init); err != nil {
		return SignalOther
	}
	return SignalCandidate
}
