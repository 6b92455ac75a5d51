package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corkboard/internal/access"
	"corkboard/internal/rbac"
	"corkboard/internal/store"
)

// fakeGate grants whatever is registered under the credential string.
type fakeGate struct {
	grants map[string]access.Grant
}

func (g fakeGate) Authorize(_ context.Context, boardID string, creds access.Credentials) (access.Grant, error) {
	if creds.Empty() {
		return nil, access.ErrUnauthorized
	}
	grant, ok := g.grants[creds.Bearer+creds.ShareToken]
	if !ok {
		return nil, access.ErrUnauthorized
	}
	if grant.Board() != boardID {
		return nil, access.ErrForbidden
	}
	return grant, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func editor(userID, boardID string) access.Grant {
	return access.AccountGrant{UserID: userID, UserName: userID, BoardID: boardID, TeamID: "team", Role: rbac.RoleEditor}
}

func newTestHub(t *testing.T, grants map[string]access.Grant, opts Options) *Hub {
	t.Helper()
	hub := NewHub(fakeGate{grants: grants}, opts)
	hub.Start()
	t.Cleanup(hub.Close)
	return hub
}

func join(t *testing.T, hub *Hub, userID, boardID, bearer string) *Conn {
	t.Helper()
	conn, err := hub.Connect(userID)
	require.NoError(t, err)
	_, err = hub.JoinBoardRoom(context.Background(), conn.ID, boardID, access.Credentials{Bearer: bearer})
	require.NoError(t, err)
	return conn
}

func recv(t *testing.T, conn *Conn) Frame {
	t.Helper()
	select {
	case frame := <-conn.Frames():
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s received nothing", conn.ID)
		return Frame{}
	}
}

func assertSilent(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case frame := <-conn.Frames():
		t.Fatalf("connection %s unexpectedly received %s", conn.ID, frame.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func cardEvent(id string) Event {
	return CardCreated{Card: store.Card{ID: id, BoardID: "board", ColumnID: "col"}}
}

func cardID(t *testing.T, frame Frame) string {
	t.Helper()
	var payload struct {
		Card struct {
			ID string `json:"id"`
		} `json:"card"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	return payload.Card.ID
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{
		"alice": editor("alice", "board"),
		"bob":   editor("bob", "board"),
	}, Options{})
	a := join(t, hub, "alice", "board", "alice")
	b := join(t, hub, "bob", "board", "bob")

	hub.Broadcast("board", cardEvent("c1"), a.ID)
	frame := recv(t, b)
	assert.Equal(t, "card.created", frame.Name)
	assert.Equal(t, "c1", cardID(t, frame))
	assertSilent(t, a)

	hub.Broadcast("board", cardEvent("c2"), "")
	assert.Equal(t, "c2", cardID(t, recv(t, a)))
	assert.Equal(t, "c2", cardID(t, recv(t, b)))
}

func TestBroadcastStaysInsideRoom(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{
		"alice": editor("alice", "board"),
		"bob":   editor("bob", "other"),
	}, Options{})
	a := join(t, hub, "alice", "board", "alice")
	b := join(t, hub, "bob", "other", "bob")

	hub.Broadcast("board", cardEvent("c1"), "")
	recv(t, a)
	assertSilent(t, b)
}

func TestRejectedJoinKeepsConnectionOpen(t *testing.T) {
	readOnly := access.ShareGrant{ShareID: "shr", BoardID: "board", TeamID: "team", Perm: access.PermRead}
	hub := newTestHub(t, map[string]access.Grant{"link": readOnly}, Options{})
	conn, err := hub.Connect("")
	require.NoError(t, err)

	_, err = hub.JoinBoardRoom(context.Background(), conn.ID, "board", access.Credentials{})
	require.ErrorIs(t, err, access.ErrUnauthorized)
	_, err = hub.JoinBoardRoom(context.Background(), conn.ID, "board", access.Credentials{ShareToken: "wrong"})
	require.ErrorIs(t, err, access.ErrUnauthorized)
	select {
	case <-conn.Done():
		t.Fatal("rejected join closed the connection")
	default:
	}
	assert.Equal(t, 0, hub.RoomSize("board"))

	grant, err := hub.JoinBoardRoom(context.Background(), conn.ID, "board", access.Credentials{ShareToken: "link"})
	require.NoError(t, err)
	assert.Equal(t, access.PermRead, grant.Permission())
	assert.ErrorIs(t, access.Require(grant, access.PermEdit), access.ErrForbidden)

	hub.Broadcast("board", cardEvent("c1"), "")
	assert.Equal(t, "c1", cardID(t, recv(t, conn)))
}

func TestJoinRejectsGrantForAnotherUser(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{})
	conn, err := hub.Connect("mallory")
	require.NoError(t, err)
	_, err = hub.JoinBoardRoom(context.Background(), conn.ID, "board", access.Credentials{Bearer: "alice"})
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestJoinUnknownConnection(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{})
	_, err := hub.JoinBoardRoom(context.Background(), "conn_missing", "board", access.Credentials{Bearer: "alice"})
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestTicketsFlushInReservationOrder(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{})
	conn := join(t, hub, "alice", "board", "alice")

	first := hub.Reserve("board")
	second := hub.Reserve("board")
	third := hub.Reserve("board")

	third.Publish(cardEvent("third"), "")
	second.Publish(cardEvent("second"), "")
	assertSilent(t, conn)

	first.Publish(cardEvent("first"), "")
	assert.Equal(t, "first", cardID(t, recv(t, conn)))
	assert.Equal(t, "second", cardID(t, recv(t, conn)))
	assert.Equal(t, "third", cardID(t, recv(t, conn)))

	// settled tickets ignore further calls
	first.Cancel()
	first.Publish(cardEvent("again"), "")
	assertSilent(t, conn)
}

func TestCancelledTicketReleasesSlot(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{})
	conn := join(t, hub, "alice", "board", "alice")

	failed := hub.Reserve("board")
	committed := hub.Reserve("board")
	committed.Publish(cardEvent("kept"), "")
	assertSilent(t, conn)

	failed.Cancel()
	assert.Equal(t, "kept", cardID(t, recv(t, conn)))
	assertSilent(t, conn)
}

func TestConcurrentTicketsKeepReservationOrder(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{OutboxSize: 256})
	conn := join(t, hub, "alice", "board", "alice")

	const n = 100
	tickets := make([]*Ticket, n)
	for i := range tickets {
		tickets[i] = hub.Reserve("board")
	}
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tickets[i].Publish(cardEvent(string(rune('A'+i%26))+string(rune('a'+i/26))), "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, string(rune('A'+i%26))+string(rune('a'+i/26)), cardID(t, recv(t, conn)))
	}
}

func TestExpiredShareMemberIsEvictedOnDelivery(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	expiresAt := clk.now.Add(time.Minute)
	hub := newTestHub(t, map[string]access.Grant{
		"link":  access.ShareGrant{ShareID: "shr", BoardID: "board", TeamID: "team", Perm: access.PermRead, ExpiresAt: &expiresAt},
		"alice": editor("alice", "board"),
	}, Options{Now: clk.Now})

	viewer, err := hub.Connect("")
	require.NoError(t, err)
	_, err = hub.JoinBoardRoom(context.Background(), viewer.ID, "board", access.Credentials{ShareToken: "link"})
	require.NoError(t, err)
	member := join(t, hub, "alice", "board", "alice")

	hub.Broadcast("board", cardEvent("before"), "")
	recv(t, viewer)
	recv(t, member)

	clk.Advance(2 * time.Minute)
	hub.Broadcast("board", cardEvent("after"), "")

	left := recv(t, viewer)
	assert.Equal(t, "room.left", left.Name)
	assert.JSONEq(t, `{"boardId":"board","reason":"share_expired"}`, string(left.Data))
	assertSilent(t, viewer)
	assert.Equal(t, "after", cardID(t, recv(t, member)))
	assert.Equal(t, 1, hub.RoomSize("board"))
}

func TestSweeperEvictsExpiredMembersWithoutTraffic(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	expiresAt := clk.now.Add(time.Minute)
	hub := newTestHub(t, map[string]access.Grant{
		"link": access.ShareGrant{ShareID: "shr", BoardID: "board", Perm: access.PermRead, ExpiresAt: &expiresAt},
	}, Options{Now: clk.Now, SweepInterval: 10 * time.Millisecond})
	viewer, err := hub.Connect("")
	require.NoError(t, err)
	_, err = hub.JoinBoardRoom(context.Background(), viewer.ID, "board", access.Credentials{ShareToken: "link"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	assert.Equal(t, "room.left", recv(t, viewer).Name)
	assert.Eventually(t, func() bool { return hub.RoomSize("board") == 0 }, time.Second, 10*time.Millisecond)
}

func TestEvictShareAndCloseRoom(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{
		"link":  access.ShareGrant{ShareID: "shr", BoardID: "board", Perm: access.PermRead},
		"alice": editor("alice", "board"),
	}, Options{})
	viewer, err := hub.Connect("")
	require.NoError(t, err)
	_, err = hub.JoinBoardRoom(context.Background(), viewer.ID, "board", access.Credentials{ShareToken: "link"})
	require.NoError(t, err)
	member := join(t, hub, "alice", "board", "alice")

	hub.EvictShare("shr")
	assert.JSONEq(t, `{"boardId":"board","reason":"share_revoked"}`, string(recv(t, viewer).Data))
	assert.Equal(t, 1, hub.RoomSize("board"))
	assertSilent(t, member)

	hub.CloseRoom("board")
	assert.JSONEq(t, `{"boardId":"board","reason":"board_deleted"}`, string(recv(t, member).Data))
	assert.Equal(t, 0, hub.RoomSize("board"))
}

func TestNotifyUserReachesEveryConnectionOfThatUser(t *testing.T) {
	hub := newTestHub(t, nil, Options{})
	tab1, err := hub.Connect("alice")
	require.NoError(t, err)
	tab2, err := hub.Connect("alice")
	require.NoError(t, err)
	other, err := hub.Connect("bob")
	require.NoError(t, err)

	hub.NotifyUser("alice", NotificationCreated{Notification: store.Notification{ID: "ntf_1", UserID: "alice"}})
	assert.Equal(t, "notification.created", recv(t, tab1).Name)
	assert.Equal(t, "notification.created", recv(t, tab2).Name)
	assertSilent(t, other)
}

func TestFullOutboxDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{OutboxSize: 1})
	conn := join(t, hub, "alice", "board", "alice")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast("board", cardEvent("c"), "")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow connection")
	}
	recv(t, conn)
	assertSilent(t, conn)
}

func TestDisconnectLeavesRooms(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{})
	conn := join(t, hub, "alice", "board", "alice")
	assert.Equal(t, 1, hub.RoomSize("board"))

	hub.Disconnect(conn.ID)
	assert.Equal(t, 0, hub.RoomSize("board"))
	select {
	case <-conn.Done():
	default:
		t.Fatal("expected connection to be closed")
	}
	hub.Broadcast("board", cardEvent("c"), "")
	hub.Disconnect(conn.ID)
}

func TestLeaveBoardRoom(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{"alice": editor("alice", "board")}, Options{})
	conn := join(t, hub, "alice", "board", "alice")
	require.NoError(t, hub.LeaveBoardRoom(context.Background(), conn.ID, "board", access.Credentials{Bearer: "alice"}))
	assert.Zero(t, hub.RoomSize("board"))
	hub.Broadcast("board", cardEvent("c"), "")
	assertSilent(t, conn)

	require.NoError(t, hub.LeaveBoardRoom(context.Background(), conn.ID, "board", access.Credentials{Bearer: "alice"}))
}

func TestLeaveBoardRoomRequiresTheAdmittedSubject(t *testing.T) {
	hub := newTestHub(t, map[string]access.Grant{
		"alice": editor("alice", "board"),
		"bob":   editor("bob", "board"),
	}, Options{})
	conn := join(t, hub, "alice", "board", "alice")
	ctx := context.Background()

	assert.ErrorIs(t, hub.LeaveBoardRoom(ctx, conn.ID, "board", access.Credentials{}), access.ErrUnauthorized)
	assert.ErrorIs(t, hub.LeaveBoardRoom(ctx, conn.ID, "board", access.Credentials{Bearer: "bob"}), access.ErrForbidden)
	assert.ErrorIs(t, hub.LeaveBoardRoom(ctx, "missing", "board", access.Credentials{Bearer: "alice"}), ErrUnknownConnection)
	assert.Equal(t, 1, hub.RoomSize("board"))

	hub.Broadcast("board", cardEvent("c"), "")
	recv(t, conn)
}

func TestClosedHubRejectsConnections(t *testing.T) {
	hub := NewHub(fakeGate{}, Options{})
	hub.Start()
	hub.Close()
	_, err := hub.Connect("alice")
	assert.ErrorIs(t, err, ErrClosed)
	hub.Reserve("board").Publish(cardEvent("c"), "")
	hub.Close()
}

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)
