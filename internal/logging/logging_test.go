package logging

import "testing"

func TestNewLevels(t *testing.T) {
	log, err := New("debug", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatalf("expected debug to be enabled")
	}

	log, err = New("not-a-level", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Fatalf("expected unknown level to fall back to info")
	}
}
