//go:build integration

package mwah_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	mwah "github.com/mwah-app/mwah-go"
	"github.com/rs/zerolog"
)

// helpers ---------------------------------------------------------------

func testEndpoint() string {
	if v := os.Getenv("MWAH_ENDPOINT_TEST"); v != "" {
		return v
	}
	return mwah.DefaultEndpoint
}

func newClient(t *testing.T) *mwah.Client {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	return mwah.NewClient(mwah.WithEndpoint(testEndpoint()), mwah.WithLogger(&logger))
}

func newRoom(t *testing.T) string {
	t.Helper()
	code, err := mwah.GenerateRoomCode()
	if err != nil {
		t.Fatalf("GenerateRoomCode: %v", err)
	}
	return code
}

func waitState(t *testing.T, conn *mwah.RoomConnection, want mwah.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if conn.State() == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, have %s", want, conn.State())
}

// =======================================================================
// Live relay
// =======================================================================

func TestIntegration_HeartRoundTrip(t *testing.T) {
	client := newClient(t)
	room := newRoom(t)
	alice := client.NewRoomConnection(nil)
	bob := client.NewRoomConnection(nil)

	var mu sync.Mutex
	aliceHearts, bobHearts := 0, 0
	bobGot := make(chan struct{}, 1)
	alice.OnHeartReceived(func() {
		mu.Lock()
		aliceHearts++
		mu.Unlock()
	})
	bob.OnHeartReceived(func() {
		mu.Lock()
		bobHearts++
		mu.Unlock()
		select {
		case bobGot <- struct{}{}:
		default:
		}
	})

	if err := alice.Connect(client.Channel(room, mwah.NewSenderID())); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	defer alice.Disconnect()
	if err := bob.Connect(client.Channel(room, mwah.NewSenderID())); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	defer bob.Disconnect()
	waitState(t, alice, mwah.StateConnected)
	waitState(t, bob, mwah.StateConnected)

	if !alice.SendHeart() {
		t.Fatal("SendHeart returned false")
	}

	select {
	case <-bobGot:
	case <-time.After(15 * time.Second):
		t.Fatal("bob never received the heart")
	}

	// Give a self-echo time to arrive; it must be filtered.
	time.Sleep(2 * time.Second)
	mu.Lock()
	defer mu.Unlock()
	if aliceHearts != 0 {
		t.Errorf("alice received her own heart %d times", aliceHearts)
	}
	if bobHearts != 1 {
		t.Errorf("expected bob to receive 1 heart, got %d", bobHearts)
	}
}

func TestIntegration_StatusStore(t *testing.T) {
	client := newClient(t)
	room := newRoom(t)
	me, partner := mwah.NewSenderID(), mwah.NewSenderID()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Status.SaveDND(ctx, room, partner, true); err != nil {
		t.Fatalf("SaveDND: %v", err)
	}
	if err := client.Status.SavePresence(ctx, room, partner); err != nil {
		t.Fatalf("SavePresence: %v", err)
	}

	dnd, ok, err := client.Status.PartnerDND(ctx, room, me)
	if err != nil {
		t.Fatalf("PartnerDND: %v", err)
	}
	if !ok || !dnd {
		t.Errorf("expected partner dnd on, got dnd=%v ok=%v", dnd, ok)
	}

	online, err := client.Status.PartnerPresence(ctx, room, me)
	if err != nil {
		t.Fatalf("PartnerPresence: %v", err)
	}
	if !online {
		t.Error("expected partner to be online right after SavePresence")
	}
}
