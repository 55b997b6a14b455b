package tui

import (
	"strings"
	"testing"
)

func TestNewRendererRendersMarkdown(t *testing.T) {
	render := NewRenderer()

	out, err := render("Your reset link is on its way, **check your inbox**.")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out, "check your inbox") {
		t.Errorf("rendered reply lost its text: %q", out)
	}
}
