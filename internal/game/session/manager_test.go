package session_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"pgregory.net/rapid"

	"github.com/steven-mosley/idleverse/internal/game/session"
)

func newSession(id string, now time.Time, buf int) *session.Session {
	return session.New(id, "", "127.0.0.1:1", session.NewOutbox(id, buf), rate.NewLimiter(rate.Inf, 1), now, nil)
}

func TestManager_AddGetRemove(t *testing.T) {
	m := session.NewManager()
	now := time.Now()
	s := newSession("a", now, 4)

	require.NoError(t, m.Add(s))
	assert.Error(t, m.Add(newSession("a", now, 4)))
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, s, got)

	removed, ok := m.Remove("a")
	require.True(t, ok)
	assert.Same(t, s, removed)
	_, ok = m.Remove("a")
	assert.False(t, ok)
	assert.Zero(t, m.Count())
}

func TestManager_AllIsOrdered(t *testing.T) {
	m := session.NewManager()
	now := time.Now()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, m.Add(newSession(id, now, 1)))
	}
	var ids []string
	for _, s := range m.All() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestManager_Idle(t *testing.T) {
	m := session.NewManager()
	start := time.Unix(1000, 0)
	stale := newSession("stale", start, 1)
	fresh := newSession("fresh", start, 1)
	fresh.Touch(start.Add(50 * time.Second))
	require.NoError(t, m.Add(stale))
	require.NoError(t, m.Add(fresh))

	idle := m.Idle(start.Add(61*time.Second), time.Minute)
	require.Len(t, idle, 1)
	assert.Equal(t, "stale", idle[0].ID)
}

func TestManager_BroadcastReportsFullOutboxes(t *testing.T) {
	m := session.NewManager()
	now := time.Now()
	roomy := newSession("roomy", now, 4)
	tight := newSession("tight", now, 1)
	require.NoError(t, m.Add(roomy))
	require.NoError(t, m.Add(tight))

	assert.Empty(t, m.Broadcast([]byte("one")))
	refused := m.Broadcast([]byte("two"))
	require.Len(t, refused, 1)
	assert.Equal(t, "tight", refused[0].ID)
	assert.Len(t, roomy.Outbox.Frames(), 2)
}

func TestOutbox_PushAfterClose(t *testing.T) {
	o := session.NewOutbox("x", 2)
	require.NoError(t, o.Push([]byte("a")))
	o.Close()
	o.Close()
	assert.True(t, o.IsClosed())
	assert.True(t, errors.Is(o.Push([]byte("b")), session.ErrOutboxClosed))

	var got []string
	for f := range o.Frames() {
		got = append(got, string(f))
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestOutbox_Full(t *testing.T) {
	o := session.NewOutbox("x", 1)
	require.NoError(t, o.Push([]byte("a")))
	assert.ErrorIs(t, o.Push([]byte("b")), session.ErrOutboxFull)
}

func TestSession_CloseRunsHookOnce(t *testing.T) {
	calls := 0
	s := session.New("s", "u1", "", session.NewOutbox("s", 1), nil, time.Now(), func() { calls++ })
	s.Close()
	s.Close()
	assert.Equal(t, 1, calls)
	assert.True(t, s.Outbox.IsClosed())
}

func TestOutbox_NeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 16).Draw(rt, "size")
		pushes := rapid.IntRange(0, 64).Draw(rt, "pushes")
		o := session.NewOutbox("p", size)
		accepted := 0
		for i := 0; i < pushes; i++ {
			if o.Push([]byte(fmt.Sprint(i))) == nil {
				accepted++
			}
		}
		if accepted != min(size, pushes) {
			rt.Fatalf("accepted %d of %d pushes into outbox of %d", accepted, pushes, size)
		}
	})
}
