package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "results")
	require.NoError(t, err)
	return srv, topic
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	srv, topic := newTestTopic(t)
	pub := New(topic, map[string]string{"run_id": "run-1"})
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), map[string]any{"task": 1, "url": "https://example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "https://example.com", decoded["url"])
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, topic := newTestTopic(t)
	pub := New(topic, nil)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "x")
	require.Error(t, err)
}

func TestOpenRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}
