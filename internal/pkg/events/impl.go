package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// BusService fans every event out to its subscribers.
type BusService struct {
	mu          sync.RWMutex
	subscribers []Publisher

	valkey *ValkeyPublisher
}

func NewBusService(i do.Injector) (*BusService, error) {
	logger := do.MustInvoke[*zap.Logger](i)
	valkeyAddr := do.MustInvokeNamed[string](i, "valkey-addr")
	valkeyChannel := do.MustInvokeNamed[string](i, "valkey-channel")

	result := NewBus()

	if valkeyAddr != "" {
		publisher, err := NewValkeyPublisher(valkeyAddr, valkeyChannel)
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey publisher: %w", err)
		}

		result.valkey = publisher
		result.Subscribe(publisher)

		logger.Info("publishing events to valkey",
			zap.String("addr", valkeyAddr),
			zap.String("channel", valkeyChannel))
	}

	return result, nil
}

func NewBus() *BusService {
	return &BusService{}
}

func (s *BusService) Subscribe(publisher Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, publisher)
}

func (s *BusService) Publish(ctx context.Context, event Event) error {
	s.mu.RLock()
	subscribers := append([]Publisher(nil), s.subscribers...)
	s.mu.RUnlock()

	var errs []error

	for _, subscriber := range subscribers {
		err := subscriber.Publish(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *BusService) Shutdown() error {
	if s.valkey != nil {
		s.valkey.Close()
	}

	return nil
}
