package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestSession(id int64, groupKey string, buffer int) *Session {
	return &Session{
		id:       id,
		groupKey: groupKey,
		send:     make(chan []byte, buffer),
		logger:   zerolog.Nop(),
	}
}

func receive(t *testing.T, s *Session) []byte {
	t.Helper()
	select {
	case payload := <-s.send:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("session %d received nothing", s.id)
		return nil
	}
}

func requireSilent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case payload := <-s.send:
		t.Fatalf("session %d unexpectedly received %q", s.id, payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryJoinAndMembers(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	a := newTestSession(1, "channel:1", 8)
	b := newTestSession(2, "channel:1", 8)
	other := newTestSession(3, "channel:2", 8)

	r.Join(a)
	r.Join(b)
	r.Join(other)

	req.Len(r.Members("channel:1"), 2)
	req.Len(r.Members("channel:2"), 1)
	req.Equal(2, r.GroupCount())
}

func TestRegistryLeaveRemovesMembership(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	a := newTestSession(1, "channel:1", 8)
	b := newTestSession(2, "channel:1", 8)
	r.Join(a)
	r.Join(b)

	r.Leave(a)

	members := r.Members("channel:1")
	req.Len(members, 1)
	req.Equal(int64(2), members[0].ID())

	// No broadcast reaches a departed session.
	r.Broadcast("channel:1", []byte(`{"content":"hi"}`), 0, false)
	receive(t, b)
	requireSilent(t, a)
}

func TestRegistryEvictsEmptyGroup(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	a := newTestSession(1, "dm:7", 8)
	r.Join(a)
	req.Equal(1, r.GroupCount())

	r.Leave(a)

	req.Eventually(func() bool {
		return r.GroupCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryLeaveTwiceIsSafe(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	a := newTestSession(1, "dm:7", 8)
	r.Join(a)
	r.Leave(a)
	r.Leave(a)

	req.Eventually(func() bool {
		return r.GroupCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryGroupIsRecreatedAfterEviction(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	a := newTestSession(1, "channel:1", 8)
	r.Join(a)
	r.Leave(a)
	req.Eventually(func() bool {
		return r.GroupCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	b := newTestSession(2, "channel:1", 8)
	r.Join(b)
	req.Len(r.Members("channel:1"), 1)
}

func TestRegistryBroadcastToUnknownGroupFromProducerIsNoop(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	// External producers target empty groups routinely; nothing happens.
	r.Broadcast("channel:99", []byte(`{"content":"hi"}`), 0, false)
	req.Equal(0, r.GroupCount())
}

func TestRegistryConcurrentJoinLeave(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := newTestSession(int64(n+1), fmt.Sprintf("channel:%d", n%5), 8)
			r.Join(s)
			r.Broadcast(s.groupKey, []byte(`{"content":"x"}`), s.id, false)
			r.Leave(s)
		}(i)
	}
	wg.Wait()

	req.Eventually(func() bool {
		return r.GroupCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
