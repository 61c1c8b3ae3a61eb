package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"example.com/backstage/services/irrigation/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}, sessionID string) error
	Close() error
}

// serviceBusClient implements the ServiceBusClient interface
type serviceBusClient struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	source    string
}

// NewServiceBusClient creates a new Azure Service Bus client.
// Without a connection string, messages are only logged.
func NewServiceBusClient(cfg config.ServiceBusConfig, source string, log *logrus.Logger) (ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		return NewMockClient(source, log), nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusClient{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		source:    source,
	}, nil
}

// SendMessage sends a message to the Service Bus queue
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	msg := &azservicebus.Message{
		Body:        data,
		ContentType: toPtr("application/json"),
		ApplicationProperties: map[string]interface{}{
			"source": s.source,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
		SessionID: &sessionID,
	}

	return errors.Wrapf(s.sender.SendMessage(ctx, msg, nil), "failed to send message to %s", s.queueName)
}

// Close closes the Service Bus client
func (s *serviceBusClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.sender != nil {
		if err := s.sender.Close(ctx); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(ctx)
	}

	return nil
}

func toPtr[T any](v T) *T {
	return &v
}

// MockClient logs messages instead of sending them. Sent bodies are kept for inspection.
type MockClient struct {
	source string
	log    *logrus.Logger

	mu   sync.Mutex
	sent []SentMessage
}

// SentMessage is a message recorded by MockClient
type SentMessage struct {
	Body      interface{}
	SessionID string
}

// NewMockClient creates a client for local development and tests
func NewMockClient(source string, log *logrus.Logger) *MockClient {
	return &MockClient{source: source, log: log}
}

// SendMessage records and logs the message
func (m *MockClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{Body: body, SessionID: sessionID})
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"source":     m.source,
		"session_id": sessionID,
	}).Debugf("[MOCK ServiceBus] message: %+v", body)
	return nil
}

// Sent returns a copy of the recorded messages
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Close implementation for mock client
func (m *MockClient) Close() error {
	return nil
}
