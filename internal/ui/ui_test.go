package ui

import (
	"strings"
	"testing"

	"github.com/muesli/termenv"
)

func TestTableAlignsColumns(t *testing.T) {
	DisableColor()
	out := Table([]string{"ID", "NAME"}, [][]string{
		{"1", "Mission Chinese Food"},
		{"10", "Emily"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out)
	}
	col := strings.Index(lines[0], "NAME")
	for _, l := range lines[1:] {
		if strings.IndexFunc(l[2:], func(r rune) bool { return r != ' ' })+2 != col {
			t.Errorf("column misaligned in %q", l)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a comment that is long", 10, "a comment…"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestStars(t *testing.T) {
	DisableColor()
	if got := Stars(3); got != "★★★☆☆" {
		t.Errorf("Stars(3) = %q", got)
	}
	if got := Stars(9); got != "★★★★★" {
		t.Errorf("Stars(9) = %q", got)
	}
}

func TestRenderWithColor(t *testing.T) {
	EnableColor(termenv.ANSI)
	defer DisableColor()
	if got := RenderFail("x"); !strings.Contains(got, "\x1b[") {
		t.Errorf("expected ANSI sequence, got %q", got)
	}
}
