package client

import "testing"

// TestKillFilterArgs tests the wire token pairs of every filter
func TestKillFilterArgs(t *testing.T) {
	tests := []struct {
		filter KillFilter
		prefix string
		value  string
	}{
		{KillByID("123"), "ID", "123"},
		{KillByType(KillNormal), "TYPE", "normal"},
		{KillByType(KillMaster), "TYPE", "master"},
		{KillByType(KillReplica), "TYPE", "replica"},
		{KillByType(KillPubsub), "TYPE", "pubsub"},
		{KillByUser("app"), "USER", "app"},
		{KillByAddr("1.2.3.4:5678"), "ADDR", "1.2.3.4:5678"},
		{KillByLAddr("10.0.0.1:6379"), "LADDR", "10.0.0.1:6379"},
		{KillSkipMe(true), "SKIPME", "yes"},
		{KillSkipMe(false), "SKIPME", "no"},
	}
	for _, tt := range tests {
		prefix, value := tt.filter.args()
		if prefix != tt.prefix || value != tt.value {
			t.Errorf("args() = %q %q, want %q %q", prefix, value, tt.prefix, tt.value)
		}
	}
}

// TestFlagTokens tests the remaining argument enums
func TestFlagTokens(t *testing.T) {
	if PauseWrite.token() != "WRITE" || PauseAll.token() != "ALL" {
		t.Error("PauseKind token mismatch")
	}
	if ReplyOn.token() != "ON" || ReplyOff.token() != "OFF" || ReplySkip.token() != "SKIP" {
		t.Error("ReplyFlag token mismatch")
	}
	if UnblockTimeout.token() != "TIMEOUT" || UnblockError.token() != "ERROR" {
		t.Error("UnblockFlag token mismatch")
	}
	if ToggleOn.token() != "ON" || ToggleOff.token() != "OFF" {
		t.Error("Toggle token mismatch")
	}
}
