package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Bus carries shell events from the UI to their consumers in-process.
//
// Publish returns only after every subscriber has acked the message, so
// events from one publisher are handled in publish order. A close request
// followed by an open must leave the window open.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router

	runOnce sync.Once
}

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, logger)

	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{pubsub: pubsub, router: r}, nil
}

func (b *Bus) Publisher() message.Publisher { return b.pubsub }

// HandleShellEvents registers fn as a consumer of TopicShellEvents. It must
// be called before Run. Malformed messages are logged and acked.
func (b *Bus) HandleShellEvents(name string, fn func(ctx context.Context, ev ShellEvent)) {
	b.router.AddConsumerHandler(name, TopicShellEvents, b.pubsub, func(msg *message.Message) error {
		ev, err := DecodeShellEvent(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("dropping malformed shell event")
			return nil
		}
		ctx := msg.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		fn(ctx, ev)
		return nil
	})
}

// Running is closed once the router has subscribed its handlers. Events
// published before that are dropped.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Run consumes until ctx is cancelled, then closes the pub/sub so that
// publishers still waiting for an ack are released.
func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.router.Close()
		}()
		runErr = b.router.Run(ctx)
		if err := b.pubsub.Close(); err != nil && runErr == nil {
			runErr = errors.Wrap(err, "close shell event pubsub")
		}
	})
	return runErr
}
