package notify

import (
	"sync"

	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// ChannelSubscriber delivers updates over a buffered Go channel
type ChannelSubscriber struct {
	updates chan models.StatusUpdate
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
}

var _ Subscriber = (*ChannelSubscriber)(nil)

// NewChannelSubscriber creates a subscriber holding up to buffer undelivered updates
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{
		updates: make(chan models.StatusUpdate, buffer),
		done:    make(chan struct{}),
	}
}

// Updates returns the channel updates arrive on. It is closed by Close.
func (c *ChannelSubscriber) Updates() <-chan models.StatusUpdate {
	return c.updates
}

func (c *ChannelSubscriber) Send(update models.StatusUpdate) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	select {
	case <-c.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case c.updates <- update:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (c *ChannelSubscriber) Done() <-chan struct{} {
	return c.done
}

func (c *ChannelSubscriber) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.done)
		close(c.updates)
	})
	return nil
}
