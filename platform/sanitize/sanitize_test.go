package sanitize

import "testing"

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  hello  ", "hello"},
		{"tags", "<b>Intro</b> call", "Intro call"},
		{"encoded tag", "&lt;script&gt;alert(1)&lt;/script&gt;ok", "alert(1)ok"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Fatalf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLineCollapsesWhitespace(t *testing.T) {
	if got := Line("Series A\n\n  <i>intro</i>"); got != "Series A intro" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestTextPtr(t *testing.T) {
	if TextPtr(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
	if TextPtr(ptr("<p></p>")) != nil {
		t.Fatal("expected nil for blank result")
	}
	if got := TextPtr(ptr("line one\nline two")); got == nil || *got != "line one\nline two" {
		t.Fatalf("unexpected %v", got)
	}
}

func ptr(s string) *string { return &s }
