package toast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushKeepsOrder(t *testing.T) {
	var s Stack
	now := time.Now()
	s.Push(Info, "first", 0, now)
	s.Push(Error, "second", time.Second, now)

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Text)
	assert.Equal(t, now.Add(DefaultDuration), items[0].Expires)
	assert.Equal(t, "second", items[1].Text)
	assert.Equal(t, Error, items[1].Kind)
}

func TestExpire(t *testing.T) {
	var s Stack
	now := time.Now()
	s.Push(Info, "short", time.Second, now)
	s.Push(Success, "long", 5*time.Second, now)

	assert.Equal(t, 0, s.Expire(now.Add(500*time.Millisecond)))
	assert.Equal(t, 1, s.Expire(now.Add(time.Second)))
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "long", s.Items()[0].Text)
	assert.Equal(t, 1, s.Expire(now.Add(time.Minute)))
	assert.Zero(t, s.Len())
}

func TestRemove(t *testing.T) {
	var s Stack
	now := time.Now()
	a := s.Push(Info, "a", 0, now)
	s.Push(Info, "b", 0, now)
	s.Remove(a.ID)
	s.Remove("missing")
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "b", s.Items()[0].Text)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "info", Info.String())
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "error", Error.String())
}
