package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubnubgo "github.com/pubnub/go/v7"
)

var _ Gateway = (*PubNubGateway)(nil)

// PubNubConfig holds the keyset used to publish.
type PubNubConfig struct {
	PublishKey, SubscribeKey, SecretKey, UserID string
}

// PubNubGateway pushes notifications to a per-registration PubNub channel
// that the client subscribes to.
type PubNubGateway struct {
	publish func(channel, message string) error
}

// NewPubNubGateway builds a gateway over a PubNub client.
func NewPubNubGateway(cfg PubNubConfig) (*PubNubGateway, error) {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return nil, fmt.Errorf("pubnub: publish and subscribe keys are required")
	}

	pnCfg := pubnubgo.NewConfigWithUserId(pubnubgo.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pn := pubnubgo.NewPubNub(pnCfg)

	return &PubNubGateway{
		publish: func(channel, message string) error {
			_, _, err := pn.Publish().Channel(channel).Message(message).Execute()
			return err
		},
	}, nil
}

// Channel names the channel a registration's client listens on.
func Channel(registrationID string) string {
	return "registration-" + registrationID
}

func (g *PubNubGateway) NotifyPromotion(ctx context.Context, n Notification) error {
	n.Kind = KindPromotion
	return g.send(ctx, n)
}

func (g *PubNubGateway) NotifyExpired(ctx context.Context, n Notification) error {
	n.Kind = KindExpired
	return g.send(ctx, n)
}

func (g *PubNubGateway) send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := g.publish(Channel(n.RegistrationID), string(msg)); err != nil {
		return fmt.Errorf("pubnub publish: %w", err)
	}
	return nil
}
