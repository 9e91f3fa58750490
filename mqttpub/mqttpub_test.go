package mqttpub

import (
	"strings"
	"testing"

	"sondetrack/telemetry"
)

func TestPushRequiresConnection(t *testing.T) {
	p := NewPublisher("localhost", 1883, "sondetrack/telemetry")
	err := p.Push(&telemetry.Record{ID: "M3553150"})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
	if !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDisconnectWithoutConnectIsSafe(t *testing.T) {
	p := NewPublisher("localhost", 1883, "sondetrack/telemetry")
	p.Disconnect()
}
