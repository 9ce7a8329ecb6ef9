package tgui

import "testing"

func TestEsc(t *testing.T) {
	t.Parallel()
	if got := Esc(`<b>&"</b>`); got == H(`<b>&"</b>`) {
		t.Fatalf("Esc did not escape: %q", got)
	}
	if got := B("a<b"); got != H("<b>a&lt;b</b>") {
		t.Fatalf("B = %q", got)
	}
	if got := Code("x&y"); got != H("<code>x&amp;y</code>") {
		t.Fatalf("Code = %q", got)
	}
}

func TestLinkEscapesAttribute(t *testing.T) {
	t.Parallel()
	got := Link(`click "here"`, `https://e.com/?a=1&b="x"`)
	s := got.String()
	if s == "" || s == `<a href="https://e.com/?a=1&b="x"">click "here"</a>` {
		t.Fatalf("Link left quotes unescaped: %q", s)
	}
}

func TestLines(t *testing.T) {
	t.Parallel()
	got := Lines("a", "", "  ", "b")
	if got != H("a\nb") {
		t.Fatalf("Lines = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell…"},
		{"привет", 3, "при…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
