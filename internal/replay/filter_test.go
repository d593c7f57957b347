package replay

import (
	"testing"

	"github.com/oniproject/netcode/internal/packet"
)

func TestAdmitPerState(t *testing.T) {
	f := NewFilter(StateRequest)
	if !f.Admit(packet.Request, 0, 0) {
		t.Error("expected Request admitted while awaiting request")
	}
	if f.Admit(packet.Payload, 0, 0) {
		t.Error("expected Payload rejected while awaiting request")
	}

	f.SetState(StateAwaitingChallenge)
	if f.Admit(packet.Challenge, 10, 0) {
		t.Error("expected undersized Challenge rejected")
	}
	if !f.Admit(packet.Challenge, ChallengePacketLen, 0) {
		t.Error("expected correctly sized Challenge admitted")
	}

	f.SetState(StateAwaitingResponse)
	if !f.Admit(packet.Response, 0, 0) {
		t.Error("expected Response admitted while awaiting response")
	}
	if f.Admit(packet.Request, 0, 0) {
		t.Error("expected Request rejected while awaiting response")
	}
}

func TestAdmitConnectedRejectsReplay(t *testing.T) {
	f := NewFilter(StateConnected)
	if !f.Admit(packet.Payload, 0, 5) {
		t.Fatal("expected first delivery admitted")
	}
	if f.Admit(packet.Payload, 0, 5) {
		t.Fatal("expected replayed sequence rejected")
	}
	if f.Admit(packet.Request, 0, 6) {
		t.Fatal("expected Request rejected once connected")
	}
}
