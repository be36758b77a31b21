package channel

import (
	"testing"

	"gachasync/models"
)

func TestSendRequestDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	if !c.SendRequest(models.SyncRequest{AccountKey: "a"}) {
		t.Fatalf("first request should be queued")
	}
	if c.SendRequest(models.SyncRequest{AccountKey: "b"}) {
		t.Fatalf("second request should be dropped")
	}
	stats := c.GetStats()
	if stats.RequestsSent != 1 || stats.RequestsDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPublishBatchFansOut(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	batch := models.SyncBatch{UserKey: "u", Kind: models.KindChar, RecordCount: 2}
	c.PublishBatch(batch)

	if got := <-c.Archive; got.UserKey != "u" {
		t.Fatalf("archive got %+v", got)
	}
	if got := <-c.Events; got.RecordCount != 2 {
		t.Fatalf("events got %+v", got)
	}

	c.PublishBatch(batch)
	archiveDropped, eventDropped := c.PublishBatch(batch)
	if !archiveDropped || !eventDropped {
		t.Fatalf("expected both sinks to report a drop")
	}
	stats := c.GetStats()
	if stats.ArchiveDropped != 1 || stats.EventsDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewChannels(1, 1)
	c.Close()
	c.Close()
	if _, ok := <-c.Progress; ok {
		t.Fatalf("progress channel should be closed")
	}
}

func TestPublishBatchSkipsDisabledSinks(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()
	c.SetSinks(true, false)

	c.PublishBatch(models.SyncBatch{UserKey: "u"})
	stats := c.GetStats()
	if stats.ArchiveSent != 1 || stats.EventsSent != 0 || stats.EventsDropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(c.Events) != 0 {
		t.Fatalf("events channel should stay empty")
	}
}
