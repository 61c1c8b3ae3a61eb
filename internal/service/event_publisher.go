package service

import (
	"context"
	"sync"
	"time"

	"example.com/backstage/services/irrigation/internal/messaging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	eventQueueSize   = 1000
	eventSendTimeout = 10 * time.Second
)

// EventPublisher sends lifecycle events to Service Bus from a small worker pool
// so that request handlers never wait on the broker. Events are best effort:
// a full queue or a failed send is logged and the event dropped.
type EventPublisher struct {
	client  messaging.ServiceBusClient
	log     *logrus.Logger
	workers int
	queue   chan messaging.Event
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewEventPublisher starts workers goroutines reading from the event queue
func NewEventPublisher(client messaging.ServiceBusClient, log *logrus.Logger, workers int) *EventPublisher {
	p := &EventPublisher{
		client:  client,
		log:     log,
		workers: workers,
		queue:   make(chan messaging.Event, eventQueueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

func (p *EventPublisher) worker(id int) {
	defer p.wg.Done()

	for event := range p.queue {
		p.send(event)
	}
	p.log.Debugf("Event worker %d shutting down", id)
}

func (p *EventPublisher) send(event messaging.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventSendTimeout)
	defer cancel()

	// One session per device keeps its events ordered for consumers
	if err := p.client.SendMessage(ctx, event, event.DeviceID); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"event_id":  event.ID,
			"type":      event.Type,
			"device_id": event.DeviceID,
		}).Warn("Failed to publish event")
	}
}

// Publish queues an event without blocking
func (p *EventPublisher) Publish(event messaging.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}

	select {
	case p.queue <- event:
	default:
		p.log.WithFields(logrus.Fields{
			"type":      event.Type,
			"device_id": event.DeviceID,
		}).Warn("Event queue is full, dropping event")
	}
}

// QueueStats returns current queue statistics
func (p *EventPublisher) QueueStats() map[string]interface{} {
	return map[string]interface{}{
		"queue_length":   len(p.queue),
		"queue_capacity": cap(p.queue),
		"worker_count":   p.workers,
	}
}

// Stop sends the events still queued and waits for the workers to exit
func (p *EventPublisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("Event publisher stopped")
}
