package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docuchat/internal/collections"
	"github.com/fyrsmithlabs/docuchat/internal/collections/collectionstest"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func receive(t *testing.T, ch <-chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestSubject(t *testing.T) {
	e := collections.Event{Type: collections.EventDocumentAdded, Collection: "reports"}
	assert.Equal(t, "docuchat.reports.document.added", Subject("docuchat", e))
}

func TestPublisher_Notify(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("docuchat.reports.>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p := NewPublisher(nc, "", nil)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.Notify(context.Background(), collections.Event{
		Type:       collections.EventDocumentAdded,
		Collection: "reports",
		DocumentID: "q1.pdf",
		ChunkCount: 4,
		Time:       at,
	}))
	require.NoError(t, p.Close())

	m := receive(t, msgs)
	assert.Equal(t, "docuchat.reports.document.added", m.Subject)
	assert.JSONEq(t, `{"type":"document.added","collection":"reports","document_id":"q1.pdf","chunk_count":4,"time":"2024-01-02T03:04:05Z"}`, string(m.Data))

	// A Publisher built on a caller's connection leaves it open.
	assert.True(t, nc.IsConnected())
}

func TestConnect_Subscribe(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(Config{URL: server.ClientURL(), SubjectPrefix: "test"}, nil)
	require.NoError(t, err)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	got := make(chan collections.Event, 4)
	sub, err := Subscribe(nc, "test", "", func(e collections.Event) { got <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	require.NoError(t, p.Notify(context.Background(), collections.Event{
		Type:       collections.EventCollectionRenamed,
		Collection: "old",
		NewName:    "new",
	}))
	require.NoError(t, p.Close())

	select {
	case e := <-got:
		assert.Equal(t, collections.EventCollectionRenamed, e.Type)
		assert.Equal(t, "new", e.NewName)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

// The store publishes one event per committed change.
func TestPublisher_StoreEvents(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 16)
	sub, err := nc.ChanSubscribe("docuchat.>", msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	store := collectionstest.NewStore(t, collections.WithNotifier(NewPublisher(nc, "", nil)))
	ctx := context.Background()
	_, err = store.AddDocument(ctx, "notes", "some text worth keeping", nil, "a.txt")
	require.NoError(t, err)
	require.NoError(t, store.DeleteCollection(ctx, "notes"))
	require.NoError(t, nc.Flush())

	var subjects []string
	for len(subjects) < 3 {
		subjects = append(subjects, receive(t, msgs).Subject)
	}
	assert.Equal(t, []string{
		"docuchat.notes.collection.created",
		"docuchat.notes.document.added",
		"docuchat.notes.collection.deleted",
	}, subjects)
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, DefaultSubjectPrefix, cfg.SubjectPrefix)
	assert.NoError(t, cfg.Validate())

	for _, prefix := range []string{"a b", "x.>", ".x", "x."} {
		assert.ErrorIs(t, Config{SubjectPrefix: prefix}.Validate(), ErrInvalidConfig, prefix)
	}
}
