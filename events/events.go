// Package events publishes committed audit records so other systems can follow changes
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/models"
)

// Publisher delivers audit events. Publishing happens after commit and never fails a request.
type Publisher interface {
	Publish(ctx context.Context, event models.AuditEvent)
	Close()
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, models.AuditEvent) {}
func (Nop) Close()                                     {}

// NATSPublisher publishes audit events to <prefix>.<resource>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to NATS with reconnects enabled
func NewNATSPublisher(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("cmdb"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject audit events of a resource type are published on
func Subject(prefix, resource string) string {
	return prefix + "." + resource
}

// Publish sends the event; failures are logged
func (p *NATSPublisher) Publish(ctx context.Context, event models.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode audit event", zap.Error(err))
		return
	}
	if p.nc == nil || p.nc.IsClosed() {
		p.logger.Warn("nats not connected, dropping audit event", zap.String("resource", event.Resource))
		return
	}
	if err := p.nc.Publish(Subject(p.prefix, event.Resource), payload); err != nil {
		p.logger.Warn("failed to publish audit event", zap.String("resource", event.Resource), zap.Error(err))
	}
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
