// Package events publishes allocation lifecycle notifications over NATS.
// The allocator only publishes here; it has nothing upstream to
// subscribe to, unlike the event-sourced services elsewhere in this
// codebase.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/the-compact/allocator/internal/config"
	"github.com/the-compact/allocator/internal/metrics"
)

var (
	natsConn *nats.Conn
	natsOnce sync.Once
)

// InitNATS connects to NATS if configured. A missing NATS.URL disables
// publishing entirely; allocation still succeeds, it just has no
// lifecycle feed.
func InitNATS() error {
	var initErr error
	natsOnce.Do(func() {
		if config.AppConfig == nil || config.AppConfig.NATS.URL == "" {
			log.Println("NATS not configured, lifecycle events will not be published")
			return
		}
		opts := []nats.Option{
			nats.Timeout(time.Duration(config.AppConfig.NATS.Timeout) * time.Second),
			nats.ReconnectWait(time.Duration(config.AppConfig.NATS.ReconnectWait) * time.Second),
			nats.MaxReconnects(config.AppConfig.NATS.MaxReconnects),
		}
		conn, err := nats.Connect(config.AppConfig.NATS.URL, opts...)
		if err != nil {
			initErr = fmt.Errorf("connect to NATS: %w", err)
			return
		}
		natsConn = conn
		log.Println("NATS connection established")
	})
	return initErr
}

// AllocationCreated is published once a compact has been persisted and
// signed.
type AllocationCreated struct {
	ChainID   uint64    `json:"chainId"`
	ClaimHash string    `json:"claimHash"`
	Sponsor   string    `json:"sponsor"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// NonceConsumed is published once a nonce is recorded as spent.
type NonceConsumed struct {
	ChainID uint64 `json:"chainId"`
	Sponsor string `json:"sponsor"`
	Nonce   string `json:"nonce"`
}

// PublishAllocationCreated mirrors this codebase's PublishDepositEvent
// shape: best-effort, non-blocking, never fails the request that
// triggered it. Fans out to NATS (if configured) and to any sponsor
// currently watching the websocket stream.
func PublishAllocationCreated(event AllocationCreated) {
	publish("allocation.created", event.Sponsor, event)
}

// PublishNonceConsumed mirrors PublishWithdrawalEvent's shape.
func PublishNonceConsumed(event NonceConsumed) {
	publish("nonce.consumed", event.Sponsor, event)
}

func publish(eventType, sponsor string, payload interface{}) {
	broadcast(eventType, sponsor, payload)

	if natsConn == nil {
		return
	}
	subject := subjectFor(eventType)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal %s event: %v", eventType, err)
		metrics.EventsPublishFailed.WithLabelValues(eventType).Inc()
		return
	}
	if err := natsConn.Publish(subject, body); err != nil {
		log.Printf("publish %s event: %v", eventType, err)
		metrics.EventsPublishFailed.WithLabelValues(eventType).Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
}

func subjectFor(eventType string) string {
	base := "allocator"
	if config.AppConfig != nil && config.AppConfig.NATS.Subject != "" {
		base = config.AppConfig.NATS.Subject
	}
	return base + "." + eventType
}

// Close drains and closes the connection during graceful shutdown.
func Close() {
	if natsConn != nil {
		natsConn.Drain()
	}
}
