package tui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func lines(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = "line " + string(rune('a'+i))
	}
	return strings.Join(out, "\n")
}

func TestViewportShortContentHasNoIndicator(t *testing.T) {
	v := NewViewport(20, 5)
	v.SetContent(lines(3))
	out := v.Render()
	assert.Len(t, strings.Split(out, "\n"), 5)
	assert.NotContains(t, out, "%")
	assert.True(t, v.AtBottom())
}

func TestViewportScrollsAndClamps(t *testing.T) {
	v := NewViewport(20, 3)
	v.SetContent(lines(10))
	assert.False(t, v.AtBottom())

	v.ScrollDown(100)
	assert.True(t, v.AtBottom())
	out := v.Render()
	assert.Contains(t, out, "line j")
	assert.Contains(t, out, "(8/10)")

	v.Home()
	v.ScrollUp(5)
	assert.True(t, strings.HasPrefix(v.Render(), "line a"))
}

func TestViewportTruncatesOrWraps(t *testing.T) {
	v := NewViewport(5, 4)
	v.SetContent("abcdefghij")
	assert.True(t, strings.HasPrefix(v.Render(), "abcde\n"))

	v.ScrollRight(5)
	assert.True(t, strings.HasPrefix(v.Render(), "fghij"))

	v.ToggleWrap()
	out := v.Render()
	assert.True(t, strings.HasPrefix(out, "abcde\nfghij"))
}

func TestViewportEmpty(t *testing.T) {
	v := NewViewport(10, 3)
	assert.Equal(t, "", v.Render())
}
