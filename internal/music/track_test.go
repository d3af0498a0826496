package music

import (
	"testing"
	"time"
)

func TestParseLoopMode(t *testing.T) {
	cases := map[string]LoopMode{"off": LoopNone, "Track": LoopTrack, "queue": LoopQueue, "all": LoopQueue}
	for input, want := range cases {
		got, err := ParseLoopMode(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", input, want, got)
		}
	}
	if _, err := ParseLoopMode("forever"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestTrackLabels(t *testing.T) {
	track := Track{Title: "Song", Artist: "Band", Duration: 3*time.Minute + 20*time.Second}
	if got := track.Label(); got != "Band - Song" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := track.DurationLabel(); got != "3:20" {
		t.Fatalf("unexpected duration %q", got)
	}
	live := Track{Title: "Radio", Live: true}
	if got := live.DurationLabel(); got != "LIVE" {
		t.Fatalf("unexpected live label %q", got)
	}
	long := Track{Duration: time.Hour + 2*time.Minute + 3*time.Second}
	if got := long.DurationLabel(); got != "1:02:03" {
		t.Fatalf("unexpected long duration %q", got)
	}
	if NewReference("x", "https://example.com").Resolved() {
		t.Fatalf("reference should not be resolved")
	}
}
