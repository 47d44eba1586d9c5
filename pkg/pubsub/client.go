// Package pubsub publishes settled purchase events to Google Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub purchase events topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Message is one event ready for the wire.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Client owns the Pub/Sub connection and the purchase events publisher.
type Client struct {
	client *gcppubsub.Client
	topic  string

	once      sync.Once
	publisher *gcppubsub.Publisher
}

// NewClient connects to Pub/Sub and checks that the purchase events topic
// exists, creating it when cfg.CreateTopic is set.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topic := topicResourceName(projectID, cfg.PurchaseEventsTopic)
	if topic == "" {
		return nil, errNoTopic
	}

	psClient, err := gcppubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, topic: topic}

	err = c.checkTopic(ctx)
	if status.Code(err) == codes.NotFound && cfg.CreateTopic {
		_, err = psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
		if err == nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "topic", topic), "pubsub.topic_created")
		}
	}
	if err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub.connected")
	}
	return c, nil
}

func (c *Client) checkTopic(ctx context.Context) error {
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	if err != nil {
		return fmt.Errorf("checking topic %s: %w", c.topic, err)
	}
	return nil
}

// Topic is the full resource name events are published to.
func (c *Client) Topic() string {
	if c == nil {
		return ""
	}
	return c.topic
}

// Publish sends msg and waits for the server id.
func (c *Client) Publish(ctx context.Context, msg Message) (string, error) {
	if c == nil || c.client == nil {
		return "", errNotInitialized
	}
	c.once.Do(func() {
		c.publisher = c.client.Publisher(c.topic)
	})
	res := c.publisher.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	return res.Get(ctx)
}

// Ping backs the publisher's readiness check.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.checkTopic(ctx)
}

// Close flushes pending publishes and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

// IsPermanent reports whether a publish error will fail the same way on
// every retry, e.g. a deleted topic or missing IAM grant.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errNotInitialized) {
		return true
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return true
	}
	return false
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
