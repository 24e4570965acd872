package cli

import (
	"bytes"
	"slices"
	"strings"
	"testing"
)

func newTestPrompter(input string) (*Prompter, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Prompter{
		In:  strings.NewReader(input),
		Out: out,
	}, out
}

func TestAsk(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello\n", "hello"},
		{"\n", "fallback"},
		{"   \n", "fallback"},
		{"", "fallback"}, // EOF
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		if got := p.Ask("Name", "fallback"); got != tt.want {
			t.Errorf("Ask(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAskShowsDefault(t *testing.T) {
	p, out := newTestPrompter("\n")
	p.Ask("Listen address", ":8080")
	if !strings.Contains(out.String(), "Listen address [:8080]: ") {
		t.Errorf("prompt = %q", out.String())
	}
}

func TestAskPasswordFallback(t *testing.T) {
	// Not a real terminal, so it falls back to plain read.
	p, _ := newTestPrompter("secret123\n")
	if got := p.AskPassword("Password"); got != "secret123" {
		t.Errorf("AskPassword() = %q, want %q", got, "secret123")
	}
}

func TestAskList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"https://a.example, https://b.example\n", []string{"https://a.example", "https://b.example"}},
		{"\n", []string{"*"}},
		{" , x ,,\n", []string{"x"}},
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		if got := p.AskList("Origins", []string{"*"}); !slices.Equal(got, tt.want) {
			t.Errorf("AskList(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"https://a, https://b", []string{"https://a", "https://b"}},
		{"single", []string{"single"}},
		{" , ,", nil},
		{"", nil},
	}
	for _, tt := range tests {
		if got := SplitList(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("SplitList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAskIntRetriesOnInvalid(t *testing.T) {
	p, out := newTestPrompter("zero\n-1\n5\n")
	if got := p.AskInt("Count", 1, 0); got != 5 {
		t.Errorf("AskInt() = %d, want 5", got)
	}
	if strings.Count(out.String(), "at least 0") != 2 {
		t.Errorf("expected two retry hints, got %q", out.String())
	}

	// Zero is a valid answer when the bound allows it.
	p, _ = newTestPrompter("0\n")
	if got := p.AskInt("Redis database", 3, 0); got != 0 {
		t.Errorf("AskInt() = %d, want 0", got)
	}

	p, _ = newTestPrompter("")
	if got := p.AskInt("Count", 3, 1); got != 3 {
		t.Errorf("AskInt() on closed input = %d, want default 3", got)
	}
}

func TestChoose(t *testing.T) {
	options := []string{"builtin", "jwt", "jwks", "redis"}
	tests := []struct {
		input      string
		defaultIdx int
		want       string
	}{
		{"2\n", 0, "jwt"},
		{"\n", 3, "redis"},
		{"9\n1\n", 2, "builtin"},
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		if got := p.Choose("Provider", options, tt.defaultIdx); got != tt.want {
			t.Errorf("Choose(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"Yes\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"", true, true}, // EOF
		{"maybe\nno\n", true, false},
	}
	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input)
		if got := p.Confirm("Continue?", tt.defaultYes); got != tt.want {
			t.Errorf("Confirm(%q, %v) = %v, want %v", tt.input, tt.defaultYes, got, tt.want)
		}
	}
}
