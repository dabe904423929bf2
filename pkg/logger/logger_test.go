package logger

import "testing"

func TestLogger_BasicLevels(t *testing.T) {
	l := New("debug", "json")
	if l == nil {
		t.Fatalf("logger nil")
	}
	l.Debug("dbg", "k", 1)
	l.Info("info")
	l.Warn("warn")
	l.Error("err")
}

func TestLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New("verbose", "console")
	if l == nil {
		t.Fatalf("logger nil")
	}
	l.Info("still works")
}

func TestLogger_With(t *testing.T) {
	l := NewNop().With("component", "test")
	if l == nil {
		t.Fatalf("derived logger nil")
	}
	l.Info("scoped")
}
