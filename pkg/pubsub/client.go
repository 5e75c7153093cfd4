package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client owns the Pub/Sub connection for the events topic and subscription.
// The API side only publishes and the worker only consumes, so neither
// resource is required at construction time.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

var (
	errProjectIDRequired  = errors.New("gcp project id is required")
	errNoSubscription     = errors.New("pubsub events subscription is required")
	errNoTopic            = errors.New("pubsub events topic is required")
	errNothingConfigured  = errors.New("pubsub events topic or subscription is required")
	errClientNotAvailable = errors.New("pubsub client not initialized")
)

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.EventsTopic) == "" && strings.TrimSpace(cfg.EventsSubscription) == "" {
		return nil, errNothingConfigured
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return &Client{client: psClient, projectID: gcp.ProjectID, cfg: cfg}, nil
}

// EventsSubscriber confirms the events subscription exists and returns its
// subscriber with the subscription ID, which consumers report as the topic
// coordinate of every delivery.
func (c *Client) EventsSubscriber(ctx context.Context) (*pubsub.Subscriber, string, error) {
	if c == nil || c.client == nil {
		return nil, "", errClientNotAvailable
	}
	id := strings.TrimSpace(c.cfg.EventsSubscription)
	if id == "" {
		return nil, "", errNoSubscription
	}
	full := resourceName(c.projectID, "subscriptions", id)
	if err := c.checkSubscription(ctx, full); err != nil {
		return nil, "", err
	}
	return c.client.Subscriber(full), id, nil
}

func (c *Client) eventsPublisher() (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errClientNotAvailable
	}
	id := strings.TrimSpace(c.cfg.EventsTopic)
	if id == "" {
		return nil, errNoTopic
	}
	return c.client.Publisher(resourceName(c.projectID, "topics", id)), nil
}

// Ping checks that every configured events resource still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClientNotAvailable
	}
	if id := strings.TrimSpace(c.cfg.EventsSubscription); id != "" {
		if err := c.checkSubscription(ctx, resourceName(c.projectID, "subscriptions", id)); err != nil {
			return err
		}
	}
	if id := strings.TrimSpace(c.cfg.EventsTopic); id != "" {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: resourceName(c.projectID, "topics", id)})
		if err != nil {
			return notFoundOr(err, "topic", id)
		}
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) checkSubscription(ctx context.Context, full string) error {
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	if err != nil {
		return notFoundOr(err, "subscription", full)
	}
	return nil
}

func notFoundOr(err error, kind, name string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// resourceName expands a bare ID to projects/<project>/<kind>/<id>. Names
// that are already fully qualified pass through.
func resourceName(project, kind, name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	return fmt.Sprintf("projects/%s/%s/%s", strings.TrimSpace(project), kind, n)
}
