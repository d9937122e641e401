package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublisherPublishesJSONWithEventAttribute(t *testing.T) {
	ctx := context.Background()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/project-id/topics/articles"})
	require.NoError(t, err)

	topicPublisher := client.Publisher("articles")
	defer topicPublisher.Stop()

	pub := New(topicPublisher)
	id, err := pub.Publish(ctx, "article.extracted", map[string]string{"url": "https://example.com/a"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "article.extracted", msgs[0].Attributes[EventAttribute])

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &payload))
	require.Equal(t, "https://example.com/a", payload["url"])
}

func TestPublisherNotConfigured(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "article.extracted", "x")
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, New(nil).Close())
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	pub := &Publisher{publisher: &pubsub.Publisher{}}
	_, err := pub.Publish(context.Background(), "article.extracted", func() {})
	require.ErrorContains(t, err, "marshal payload")
}

func TestDialRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "", "articles")
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
