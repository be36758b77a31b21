package dashboard

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gachasync/logger"
	"gachasync/models"
)

func TestProgressWebsocketStreamsEvents(t *testing.T) {
	env := newTestEnv(t)
	srv, router := newTestRouter(t, env)

	src := make(chan models.SyncProgress, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.progress.run(ctx, src)

	ts := httptest.NewServer(router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for srv.progress.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	src <- models.SyncProgress{SyncID: "s1", AccountKey: testKey, Stage: models.StageFetch, Kind: models.KindChar, Page: 2}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got models.SyncProgress
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SyncID != "s1" || got.Stage != models.StageFetch || got.Page != 2 {
		t.Fatalf("unexpected progress: %+v", got)
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for srv.progress.clientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProgressHubDropsForSlowClients(t *testing.T) {
	hub := newProgressHub(logger.Logger())
	client, ok := hub.subscribe()
	if !ok {
		t.Fatal("subscribe failed")
	}

	for i := 0; i < progressClientBuf+10; i++ {
		hub.broadcast(models.SyncProgress{Page: i})
	}
	if len(client.send) != progressClientBuf {
		t.Fatalf("buffered = %d, want %d", len(client.send), progressClientBuf)
	}

	hub.closeAll()
	if _, ok := hub.subscribe(); ok {
		t.Fatal("closed hub accepted a subscriber")
	}
	hub.unsubscribe(client)
}
