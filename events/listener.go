package events

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/memophor/scedge/cache"
	"github.com/memophor/scedge/types"
	"github.com/memophor/scedge/utils"
)

const (
	EventSupersededBy     = "SUPERSEDED_BY"
	EventRevokeCapsule    = "REVOKE_CAPSULE"
	EventInvalidateTenant = "INVALIDATE_TENANT"
	EventUpdateTTL        = "UPDATE_TTL"
)

// Event is an invalidation message from the knowledge graph. Only the fields
// relevant to the declared type are populated.
type Event struct {
	Type           string `json:"type"`
	Tenant         string `json:"tenant"`
	OldHash        string `json:"old_hash,omitempty"`
	NewHash        string `json:"new_hash,omitempty"`
	Key            string `json:"key,omitempty"`
	CapsuleID      string `json:"capsule_id,omitempty"`
	ProvenanceHash string `json:"provenance_hash,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	NewTTLSeconds  int64  `json:"new_ttl_seconds,omitempty"`
}

// ParseEvent decodes a raw bus payload. A payload without a type field is
// malformed.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := utils.Unmarshal(payload, &event); err != nil {
		return nil, types.Errorf(types.ErrBusEventMalformed, "%v", err)
	}
	if event.Type == "" {
		return nil, types.Errorf(types.ErrBusEventMalformed, "missing event type")
	}
	return &event, nil
}

// Source is a bus transport delivering raw event payloads. Implementations
// own their connection lifecycle including reconnects.
type Source interface {
	Start() error
	Stop() error
	Messages() <-chan []byte
}

// NewSource builds the configured bus transport.
func NewSource(ctx context.Context, logger types.Logger, config *types.BusConfig) (Source, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrBusNotConfigured
	}

	switch config.Transport {
	case "redis":
		return NewRedisSource(ctx, logger, config)
	case "websocket":
		return NewWebSocketSource(ctx, logger, config)
	default:
		return nil, types.Errorf(types.ErrBusTransportUnknown, "%q", config.Transport)
	}
}

// Listener consumes invalidation events and applies them to the cache.
// Processing is at-least-once and idempotent; malformed events are logged
// and dropped without stopping the loop.
type Listener struct {
	source  Source
	cache   *cache.Manager
	logger  types.Logger
	done    chan struct{}
	started int32
}

func NewListener(source Source, cacheManager *cache.Manager, logger types.Logger) *Listener {
	return &Listener{
		source: source,
		cache:  cacheManager,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (l *Listener) Start() error {
	if !atomic.CompareAndSwapInt32(&l.started, 0, 1) {
		return nil
	}

	if err := l.source.Start(); err != nil {
		atomic.StoreInt32(&l.started, 0)
		return types.WrapError(err, "failed to start event source")
	}

	go l.loop()

	l.logger.Info("Invalidation listener started")
	return nil
}

func (l *Listener) Stop() error {
	if !atomic.CompareAndSwapInt32(&l.started, 1, 0) {
		return nil
	}

	err := l.source.Stop()
	<-l.done

	l.logger.Info("Invalidation listener stopped")
	return err
}

func (l *Listener) IsRunning() bool {
	return atomic.LoadInt32(&l.started) == 1
}

func (l *Listener) loop() {
	defer close(l.done)

	for payload := range l.source.Messages() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("Panic handling invalidation event", zap.Any("panic", r))
				}
			}()
			l.Handle(payload)
		}()
	}
}

// Handle parses and applies one event payload.
func (l *Listener) Handle(payload []byte) {
	event, err := ParseEvent(payload)
	if err != nil {
		l.logger.Error("Dropping malformed invalidation event",
			zap.ByteString("payload", payload),
			zap.Error(err))
		return
	}

	switch event.Type {
	case EventSupersededBy:
		l.handleSupersededBy(event)
	case EventRevokeCapsule:
		l.handleRevokeCapsule(event)
	case EventInvalidateTenant:
		l.handleInvalidateTenant(event)
	case EventUpdateTTL:
		l.logger.Warn("UPDATE_TTL event not supported, ignoring",
			zap.String("tenant", event.Tenant),
			zap.String("pattern", event.Pattern))
	default:
		l.logger.Warn("Dropping invalidation event of unknown type",
			zap.String("type", event.Type))
	}
}

func (l *Listener) handleSupersededBy(event *Event) {
	hash := event.OldHash
	if hash == "" {
		hash = event.ProvenanceHash
	}
	if event.Tenant == "" || hash == "" {
		l.logger.Error("Dropping SUPERSEDED_BY event without tenant or hash")
		return
	}

	purged, err := l.cache.PurgeProvenance(event.Tenant, hash)
	if err != nil {
		l.logger.ErrorWithCause("Failed to apply SUPERSEDED_BY event", err,
			zap.String("tenant", event.Tenant),
			zap.String("old_hash", hash))
		return
	}

	l.logger.Info("Applied SUPERSEDED_BY event",
		zap.String("tenant", event.Tenant),
		zap.String("old_hash", hash),
		zap.String("new_hash", event.NewHash),
		zap.Int("purged", purged))
}

func (l *Listener) handleRevokeCapsule(event *Event) {
	key := event.Key
	if key == "" {
		key = event.CapsuleID
	}
	if event.Tenant == "" || key == "" {
		l.logger.Error("Dropping REVOKE_CAPSULE event without tenant or key")
		return
	}

	purged, err := l.cache.PurgeTenantKeys(event.Tenant, []string{key})
	if err != nil {
		l.logger.ErrorWithCause("Failed to apply REVOKE_CAPSULE event", err,
			zap.String("tenant", event.Tenant),
			zap.String("key", key))
		return
	}

	l.logger.Info("Applied REVOKE_CAPSULE event",
		zap.String("tenant", event.Tenant),
		zap.String("key", key),
		zap.Int("purged", purged))
}

func (l *Listener) handleInvalidateTenant(event *Event) {
	if event.Tenant == "" {
		l.logger.Error("Dropping INVALIDATE_TENANT event without tenant")
		return
	}

	purged, err := l.cache.PurgeTenant(event.Tenant)
	if err != nil {
		l.logger.ErrorWithCause("Failed to apply INVALIDATE_TENANT event", err,
			zap.String("tenant", event.Tenant))
		return
	}

	l.logger.Info("Applied INVALIDATE_TENANT event",
		zap.String("tenant", event.Tenant),
		zap.Int("purged", purged))
}
