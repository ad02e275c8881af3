package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

func roomMember(i int) core.Member {
	return core.Member{
		SID:      core.SessionID(fmt.Sprintf("s%d", i)),
		Identity: domain.Identity{ID: domain.UserID(fmt.Sprintf("u%d", i)), Name: fmt.Sprintf("u%d", i), Role: domain.RoleStartup},
		Conn:     &fakeConn{},
	}
}

func TestJoinEnforcesCapacityUnderLock(t *testing.T) {
	rooms := NewRooms()
	_, _, err := rooms.Join("tok", roomMember(1), 1, nil)
	require.NoError(t, err)

	_, _, err = rooms.Join("tok", roomMember(2), 1, nil)
	assert.ErrorIs(t, err, core.ErrRoomFull)

	_, count, ok := rooms.Snapshot("tok")
	require.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestJoinAtCapacityAllowsReconnect(t *testing.T) {
	rooms := NewRooms()
	_, _, err := rooms.Join("tok", roomMember(1), 1, nil)
	require.NoError(t, err)

	again := roomMember(1)
	again.SID = "s1-reborn"
	stale, replaced, err := rooms.Join("tok", again, 1, nil)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, core.SessionID("s1"), stale)

	_, count, ok := rooms.Snapshot("tok")
	require.True(t, ok)
	assert.Equal(t, 1, count, "a replacing reconnect never grows the room")
}

func TestJoinUnlimitedWhenMaxUnset(t *testing.T) {
	rooms := NewRooms()
	for i := 0; i < 5; i++ {
		_, _, err := rooms.Join("tok", roomMember(i), 0, nil)
		require.NoError(t, err)
	}
	_, count, _ := rooms.Snapshot("tok")
	assert.Equal(t, 5, count)
}

// Churning joins and leaves on one token must never strand a joiner in an
// entry the registry has already discarded: every member must stay visible
// through the registry for as long as it is joined.
func TestChurnNeverOrphansJoiners(t *testing.T) {
	rooms := NewRooms()
	const token = "churn"
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := roomMember(i)
			for j := 0; j < 200; j++ {
				if _, _, err := rooms.Join(token, m, 0, nil); err != nil {
					t.Errorf("join %s: %v", m.Identity.ID, err)
					return
				}
				if _, ok := rooms.MemberByUser(token, m.Identity.ID); !ok {
					t.Errorf("member %s joined but is not visible", m.Identity.ID)
					return
				}
				if !rooms.Leave(token, m.SID, nil) {
					t.Errorf("leave %s reported not present", m.Identity.ID)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// The registry must still serve fresh joins after the churn.
	_, _, err := rooms.Join(token, roomMember(99), 0, nil)
	require.NoError(t, err)
	roster, count, ok := rooms.Snapshot(token)
	require.True(t, ok)
	require.Equal(t, 1, count)
	assert.Equal(t, domain.UserID("u99"), roster[0].ID)
}
