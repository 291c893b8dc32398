package stream

import "testing"

func TestStripANSI_RemovesColorCodes(t *testing.T) {
	in := "\x1b[31merror\x1b[0m: build failed"
	want := "error: build failed"
	if got := stripANSI(in); got != want {
		t.Fatalf("stripANSI(%q) = %q, want %q", in, got, want)
	}
}

func TestStripANSI_PlainTextUnchanged(t *testing.T) {
	in := "no escapes here\n"
	if got := stripANSI(in); got != in {
		t.Fatalf("stripANSI(%q) = %q, want unchanged", in, got)
	}
}

func TestStripANSI_CursorMovement(t *testing.T) {
	in := "progress\x1b[2K\x1b[1Gdone"
	want := "progressdone"
	if got := stripANSI(in); got != want {
		t.Fatalf("stripANSI(%q) = %q, want %q", in, got, want)
	}
}
