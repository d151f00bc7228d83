package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"unit state", topics.UnitState("net-1", 7), "casambi/state/net-1/7"},
		{"unit command", topics.UnitCommand("net-1", 7), "casambi/command/net-1/7"},
		{"unit ack", topics.UnitAck("net-1", 7), "casambi/ack/net-1/7"},
		{"command wildcard", topics.AllUnitCommands(), "casambi/command/+/+"},
		{"bridge health", topics.BridgeHealth("casambridge-01"), "casambi/bridge/casambridge-01/health"},
		{"bridge status", topics.BridgeStatus("casambridge-01"), "casambi/bridge/casambridge-01/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseUnitCommandTopic(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		wantNetwork string
		wantUnit    int
		wantErr     bool
	}{
		{"valid", "casambi/command/net-1/7", "net-1", 7, false},
		{"round trip", Topics{}.UnitCommand("abc", 42), "abc", 42, false},
		{"wrong prefix", "homebus/command/net-1/7", "", 0, true},
		{"wrong category", "casambi/state/net-1/7", "", 0, true},
		{"missing unit", "casambi/command/net-1", "", 0, true},
		{"extra segments", "casambi/command/net-1/7/extra", "", 0, true},
		{"non-numeric unit", "casambi/command/net-1/lamp", "", 0, true},
		{"empty network", "casambi/command//7", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, unit, err := ParseUnitCommandTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Fatalf("expected ErrInvalidTopic, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUnitCommandTopic(%q): %v", tt.topic, err)
			}
			if network != tt.wantNetwork || unit != tt.wantUnit {
				t.Errorf("got %q/%d, want %q/%d", network, unit, tt.wantNetwork, tt.wantUnit)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("casambridge-01")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, "casambridge-01") {
		t.Errorf("online payload = %s", online)
	}
	offline := buildOfflinePayload("casambridge-01")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, "graceful_shutdown") {
		t.Errorf("offline payload = %s", offline)
	}
}
