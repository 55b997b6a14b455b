package tui

import (
	"github.com/charmbracelet/glamour"
)

// replyWrapWidth keeps rendered replies readable on wide terminals.
const replyWrapWidth = 100

// NewRenderer builds the markdown renderer applied to agent replies in the
// interactive chat. Replies pass through unstyled when a terminal renderer
// cannot be constructed.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(replyWrapWidth),
	)
	if err != nil {
		return func(reply string) (string, error) {
			return reply, nil
		}
	}
	return func(reply string) (string, error) {
		return r.Render(reply)
	}
}
