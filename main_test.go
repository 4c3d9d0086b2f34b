package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipmate/client"
	"shipmate/client/rest"
	"shipmate/internal/auth"
	"shipmate/internal/models"
	"shipmate/internal/storage"
)

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for i := 0; i < attempts; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server never came up at %s", url)
}

func waitForCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIntegration(t *testing.T) {
	dbFile := "integration_test.db"
	_ = os.Remove(dbFile)
	defer func() { _ = os.Remove(dbFile) }()

	apiAddr := "127.0.0.1:8891"
	secret := "very-secure-test-secret"

	t.Setenv("SHIPMATE_DB", dbFile)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("AUTH_SECRET", secret)

	// Event CRUD lives outside this service, so seed the store directly
	// before the server takes the bbolt file lock.
	{
		store, err := storage.NewBboltStorage(dbFile)
		require.NoError(t, err)
		require.NoError(t, store.UpsertEvent(models.Event{
			ID: "evt1", HostID: "host1", Title: "Deck Party", Capacity: 3,
		}))
		require.NoError(t, store.UpsertRSVP(models.RSVP{
			EventID: "evt1", UserID: "alice", Status: models.RSVPStatusGoing,
		}))
		require.NoError(t, store.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("server error: %v", err)
		}
	}()
	waitForServer(t, "http://"+apiAddr+"/me/event-chats", 30)

	// Tokens are minted with the server's secret; issuance itself belongs to
	// the external auth service.
	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Secret: base64.StdEncoding.EncodeToString([]byte(secret)),
	})
	require.NoError(t, err)
	tokenFor := func(userID, name string) client.TokenProvider {
		token, err := verifier.Issue(auth.Identity{UserID: userID, DisplayName: name}, time.Hour)
		require.NoError(t, err)
		return func(context.Context) (string, error) { return token, nil }
	}

	baseURL := "http://" + apiAddr
	wsURL := "ws://" + apiAddr + "/ws"

	aliceToken := tokenFor("alice", "Alice")
	aliceAPI := rest.NewClient(baseURL, rest.TokenProvider(aliceToken))

	rooms, err := aliceAPI.ListEventChats(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Deck Party", rooms[0].Title)
	assert.Equal(t, 0, rooms[0].UnreadCount)

	// Alice runs the full client stack: connection, ambient room set, unread
	// tracking seeded from the snapshot.
	aliceCM := client.NewConnectionManager(client.Config{URL: wsURL, Token: aliceToken})
	defer aliceCM.Disconnect()
	require.NoError(t, aliceCM.Connect(ctx))

	tracker := client.NewUnreadTracker(ctx, aliceCM, aliceAPI, "alice")
	defer tracker.Close()
	tracker.Seed([]client.RoomSnapshot{{EventID: "evt1", Title: rooms[0].Title, UnreadCount: rooms[0].UnreadCount}})

	coordinator := client.NewRoomCoordinator(aliceCM)
	defer coordinator.Close()
	coordinator.SetDesiredRooms(ctx, []string{"evt1"})

	capacityEvents := make(chan client.CapacityEvent, 4)
	capSub := aliceCM.OnCapacity(func(ev client.CapacityEvent) { capacityEvents <- ev })
	defer capSub.Cancel()

	// The host connects separately and sends into the room.
	hostCM := client.NewConnectionManager(client.Config{URL: wsURL, Token: tokenFor("host1", "Hosty")})
	defer hostCM.Disconnect()
	require.NoError(t, hostCM.Connect(ctx))
	require.NoError(t, hostCM.JoinEventChat(ctx, "evt1"))

	sent, err := hostCM.SendEventMessage(ctx, "evt1", "welcome aboard", client.SendOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "Hosty", sent.SenderName)

	// Alice's ambient membership delivers the message; unread goes to 1.
	waitForCond(t, "unread bump", func() bool { return tracker.Unread("evt1") == 1 })

	// Reading the room persists the watermark; the next snapshot agrees.
	require.NoError(t, tracker.MarkRead(ctx, "evt1"))
	assert.Equal(t, 0, tracker.Unread("evt1"))
	rooms, err = aliceAPI.ListEventChats(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, 0, rooms[0].UnreadCount)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "welcome aboard", rooms[0].LastMessage.Text)

	// History over REST returns the persisted copy.
	history, err := aliceAPI.GetMessages(ctx, "evt1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)

	// A stranger is rejected on join but keeps their connection.
	bobToken := tokenFor("bob", "Bob")
	bobCM := client.NewConnectionManager(client.Config{URL: wsURL, Token: bobToken})
	defer bobCM.Disconnect()
	require.NoError(t, bobCM.Connect(ctx))
	err = bobCM.JoinEventChat(ctx, "evt1")
	require.Error(t, err)
	assert.True(t, client.IsRecoverable(err))

	// Bob RSVPs going over REST; the capacity broadcast reaches every live
	// connection, Alice's included, without any room-level targeting.
	bobAPI := rest.NewClient(baseURL, rest.TokenProvider(bobToken))
	info, err := bobAPI.UpdateRSVP(ctx, "evt1", "going")
	require.NoError(t, err)
	assert.Equal(t, 2, info.RSVPCount.Going)
	assert.Equal(t, 1, info.Spots)

	select {
	case ev := <-capacityEvents:
		assert.Equal(t, "evt1", ev.EventID)
		assert.Equal(t, 2, ev.Going)
		assert.Equal(t, "bob", ev.UserID)
	case <-time.After(3 * time.Second):
		t.Fatal("capacity broadcast never arrived")
	}

	// Now a member, Bob joins and the denied attempt left no residue.
	require.NoError(t, bobCM.JoinEventChat(ctx, "evt1"))
}
