package models

import "testing"

func TestUniqueKeyRoundTrip(t *testing.T) {
	tests := []struct {
		system System
		id     string
	}{
		{Subway, "127"},
		{LIRR, "237"},
		{MNR, "1"},
	}

	for _, tt := range tests {
		key := UniqueKey(tt.system, tt.id)
		if got := StripPrefix(tt.system, key); got != tt.id {
			t.Errorf("StripPrefix(%s, %q) = %q, want %q", tt.system, key, got, tt.id)
		}
		if got := SystemOf(key); got != tt.system {
			t.Errorf("SystemOf(%q) = %q, want %q", key, got, tt.system)
		}
	}
}

func TestUniqueKeyFormat(t *testing.T) {
	if got := UniqueKey(Subway, "127"); got != "SUBWAY-127" {
		t.Errorf("UniqueKey(Subway, 127) = %q, want SUBWAY-127", got)
	}
}

func TestSystemOfUnknownPrefix(t *testing.T) {
	if got := SystemOf("BUS-42"); got != "" {
		t.Errorf("SystemOf(BUS-42) = %q, want empty", got)
	}
}

func TestNewStopInfoInitializesSets(t *testing.T) {
	s := NewStopInfo(Subway, "127")
	if s.ChildOriginalStopIDs == nil || s.ServedByOriginalRoute == nil || s.RealtimeFeedURLs == nil {
		t.Error("NewStopInfo must initialize all set fields")
	}
	if len(s.ChildOriginalStopIDs) != 0 {
		t.Error("new StopInfo should have empty child set")
	}
}
