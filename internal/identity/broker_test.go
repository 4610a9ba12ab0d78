package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroker_ReplaysCurrentState(t *testing.T) {
	t.Parallel()
	var b broker
	b.publish(AuthState{SignedIn: true, IdentityID: "u1"})

	ch, cancel := b.subscribe()
	defer cancel()
	require.Equal(t, AuthState{SignedIn: true, IdentityID: "u1"}, <-ch)
	require.Equal(t, "u1", b.current().IdentityID)
}

func TestBroker_SlowSubscriberKeepsLatest(t *testing.T) {
	t.Parallel()
	var b broker
	ch, cancel := b.subscribe()
	defer cancel()

	for i := 0; i < 3*subscriberBuffer; i++ {
		b.publish(AuthState{SignedIn: true, IdentityID: "old"})
	}
	b.publish(AuthState{})

	var last AuthState
	n := len(ch)
	require.LessOrEqual(t, n, subscriberBuffer)
	for i := 0; i < n; i++ {
		last = <-ch
	}
	require.Equal(t, AuthState{}, last)
}

func TestBroker_CancelClosesChannel(t *testing.T) {
	t.Parallel()
	var b broker
	ch, cancel := b.subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
	b.publish(AuthState{SignedIn: true, IdentityID: "u1"}) // no panic on closed subscriber
}
