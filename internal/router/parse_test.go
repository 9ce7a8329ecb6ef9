package router

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "   ", want: nil},
		{name: "plain", in: "/remind 10m buy milk", want: []string{"/remind", "10m", "buy", "milk"}},
		{name: "double quotes", in: `/remind 10m "call mom"`, want: []string{"/remind", "10m", "call mom"}},
		{name: "single quotes", in: "/track 'a b' c", want: []string{"/track", "a b", "c"}},
		{name: "escaped quote", in: `say \"hi\"`, want: []string{`say`, `"hi"`}},
		{name: "mixed whitespace", in: "a\t b\n c", want: []string{"a", "b", "c"}},
		{name: "unterminated quote keeps rest", in: `a "b c`, want: []string{"a", "b c"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tokenizeCommandLine(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"a", "--key=v1", "--next", "v2", "--on", "-x", "3", "-ab", "b"})
	if !reflect.DeepEqual(pos, []string{"a", "b"}) {
		t.Fatalf("pos = %#v", pos)
	}
	if flags["key"] != "v1" || flags["next"] != "v2" || flags["x"] != "3" {
		t.Fatalf("flags = %#v", flags)
	}
	if !bools["on"] || !bools["a"] || !bools["b"] {
		t.Fatalf("bools = %#v", bools)
	}
}

func TestParseFlagsDashValueStaysBool(t *testing.T) {
	t.Parallel()
	_, flags, bools := parseFlags([]string{"--key", "--other"})
	if _, ok := flags["key"]; ok {
		t.Fatalf("flag value consumed from next flag token: %#v", flags)
	}
	if !bools["key"] || !bools["other"] {
		t.Fatalf("bools = %#v", bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"remind", "remind"},
		{"Remind Me", "remind_me"},
		{"weather-now", "weather_now"},
		{"__track__", "track"},
		{"", ""},
		{"!!!", ""},
		{"1password", "cmd_1password"},
		{"a--b", "a_b"},
		{"verylongcommandnamethatexceedsthirtytwochars", "verylongcommandnamethatexceedsth"},
	}
	for _, tt := range tests {
		if got := sanitizeTelegramCommand(tt.in); got != tt.want {
			t.Fatalf("sanitizeTelegramCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newReqID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty request id %q", id)
		}
		seen[id] = true
	}
}
