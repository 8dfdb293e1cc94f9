package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/sitemap-screenshotter/internal/publisher/pubsub"
)

func newFakeClient(t *testing.T) (*gpubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gpubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newFakeClient(t)

	_, err := client.CreateTopic(ctx, "jobs-drained")
	require.NoError(t, err)

	p := pubsub.New(client)
	t.Cleanup(func() { _ = p.Close() })

	id, err := p.Publish(ctx, "jobs-drained", map[string]any{"jobId": "abc", "drained": true})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "abc", got["jobId"])
	require.Equal(t, true, got["drained"])
}

func TestPublishUnknownTopicFails(t *testing.T) {
	ctx := context.Background()
	client, _ := newFakeClient(t)

	p := pubsub.New(client)
	t.Cleanup(func() { _ = p.Close() })

	_, err := p.Publish(ctx, "missing", map[string]string{"a": "b"})
	require.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := pubsub.New(nil).Publish(context.Background(), "topic", "x")
	require.ErrorContains(t, err, "not configured")

	client, _ := newFakeClient(t)
	p := pubsub.New(client)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = p.Publish(context.Background(), "topic", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewFromProjectRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := pubsub.NewFromProject(context.Background(), "")
	require.Error(t, err)
}
