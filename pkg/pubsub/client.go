// Package pubsub wraps the Pub/Sub v2 client used by the outbox publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub escrow topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// topicGetter is the admin call used to confirm topics exist.
type topicGetter interface {
	GetTopic(ctx context.Context, req *pubsubpb.GetTopicRequest, opts ...gax.CallOption) (*pubsubpb.Topic, error)
}

type Client struct {
	client  *pubsub.Client
	admin   topicGetter
	project string
	topics  []string
}

// NewClient dials Pub/Sub and fails unless every configured topic exists.
// PUBSUB_EMULATOR_HOST is honoured by the underlying library.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topics := cfg.Topics()
	if len(topics) == 0 {
		return nil, errTopicRequired
	}

	raw, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: raw, admin: raw.TopicAdminClient, project: project, topics: topics}
	if err := c.checkTopics(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topics), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func (c *Client) checkTopics(ctx context.Context) error {
	for _, name := range c.topics {
		_, err := c.admin.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicResourceName(c.project, name)})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %q does not exist", name)
		case err != nil:
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

// Publisher returns an ordering-enabled publisher for topic, so events that
// share an ordering key (the order ID) arrive in commit order.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := topicResourceName(c.project, topic)
	if name == "" {
		return nil
	}
	p := c.client.Publisher(name)
	p.EnableMessageOrdering = true
	return p
}

// Ping re-checks the configured topics; readiness uses it.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errNotInitialized
	}
	return c.checkTopics(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// topicResourceName expands a short topic id to projects/<p>/topics/<id>.
// Full resource names pass through.
func topicResourceName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case strings.TrimSpace(project) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(project) + "/topics/" + topic
}
