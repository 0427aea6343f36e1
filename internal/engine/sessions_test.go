package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_AddAndDuplicate(t *testing.T) {
	r := NewSessionRegistry()
	s := Session{AccountID: 1, Name: "alice", TransportID: "c1", LoggedInAt: time.Now()}

	require.NoError(t, r.Add(s))

	// Same account from another connection is rejected.
	err := r.Add(Session{AccountID: 1, Name: "alice", TransportID: "c2"})
	require.ErrorIs(t, err, ErrAlreadyLoggedIn)

	got, ok := r.Get(1)
	require.True(t, ok)
	require.Equal(t, "c1", got.TransportID)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()
	require.NoError(t, r.Add(Session{AccountID: 1, TransportID: "c1"}))

	require.True(t, r.Remove(1))
	require.False(t, r.Remove(1))

	// Account can log back in after removal.
	require.NoError(t, r.Add(Session{AccountID: 1, TransportID: "c2"}))
}

func TestSessionRegistry_RemoveByTransport(t *testing.T) {
	r := NewSessionRegistry()
	require.NoError(t, r.Add(Session{AccountID: 1, TransportID: "c1"}))
	require.NoError(t, r.Add(Session{AccountID: 2, TransportID: "c2"}))

	id, ok := r.RemoveByTransport("c1")
	require.True(t, ok)
	require.Equal(t, int64(1), id)

	_, ok = r.RemoveByTransport("c1")
	require.False(t, ok)

	require.ElementsMatch(t, []int64{2}, r.AccountIDs())
}

func TestSessionRegistry_Presence(t *testing.T) {
	r := NewSessionRegistry()
	require.Equal(t, 1, r.Connect())
	require.Equal(t, 2, r.Connect())
	require.Equal(t, 1, r.Disconnect())

	// Presence never goes negative even with unbalanced disconnects.
	require.Equal(t, 0, r.Disconnect())
	require.Equal(t, 0, r.Disconnect())
	require.Equal(t, 0, r.Online())
}

func TestSessionRegistry_Sessions(t *testing.T) {
	r := NewSessionRegistry()
	require.NoError(t, r.Add(Session{AccountID: 1, TransportID: "c1"}))
	require.NoError(t, r.Add(Session{AccountID: 2, TransportID: "c2"}))

	sessions := r.Sessions()
	require.Len(t, sessions, 2)
	require.ElementsMatch(t, []int64{1, 2}, r.AccountIDs())
}
