package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/inkwell-ai/inkwell/app/models"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/billing"
	"github.com/inkwell-ai/inkwell/internal/pkg/subscriptions"
	"gorm.io/gorm"
)

const (
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
)

const dedupTTL = 24 * time.Hour

// Deduper is the optional redis fast path in front of the database's
// unique-key insert. Seen reports whether the event id was already fully
// processed; MarkSeen records that only once processing succeeds, so a
// failed delivery never blocks its own redelivery.
type Deduper struct {
	Seen     func(ctx context.Context, key string) (bool, error)
	MarkSeen func(ctx context.Context, key string, ttl time.Duration) error
}

// Archiver stores raw webhook payloads for audit. Failures are logged, not
// surfaced; archival must never block event processing.
type Archiver interface {
	ArchivePayload(ctx context.Context, eventID string, payload []byte) error
}

// event is the provider webhook envelope.
type event struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity struct {
				ID     string `json:"id"`
				PlanID string `json:"plan_id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// Processor verifies, deduplicates and dispatches provider webhook events.
// The provider delivers at least once and retries on any non-2xx, so every
// path through Handle must be safe to repeat.
type Processor struct {
	subs    *subscriptions.Service
	events  repository.WebhookEventRepository
	secret  string
	dedup   *Deduper
	archive Archiver
}

// NewProcessor creates a webhook processor. The deduper and archiver are
// optional.
func NewProcessor(subs *subscriptions.Service, events repository.WebhookEventRepository, secret string) *Processor {
	return &Processor{subs: subs, events: events, secret: secret}
}

// WithDeduper attaches the redis fast-path dedup and returns the processor.
func (p *Processor) WithDeduper(d Deduper) *Processor {
	p.dedup = &d
	return p
}

// WithArchiver attaches a payload archiver and returns the processor.
func (p *Processor) WithArchiver(a Archiver) *Processor {
	p.archive = a
	return p
}

// Handle processes one delivery and returns the HTTP status to answer with:
// 400 for a bad signature or malformed body (no state touched for bad
// signatures), 200 for processed, duplicate and ignored events, 500 for
// processing failures so the provider retries later.
func (p *Processor) Handle(ctx context.Context, rawPayload []byte, signature, eventID string) (int, error) {
	if !billing.VerifyWebhookSignature(rawPayload, signature, p.secret) {
		return fiber.StatusBadRequest, errors.New("invalid webhook signature")
	}

	var ev event
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return fiber.StatusBadRequest, fmt.Errorf("malformed webhook payload: %w", err)
	}

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		sum := sha256.Sum256(rawPayload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	seenKey := "webhook:seen:" + eventID
	if p.dedup != nil && p.dedup.Seen != nil {
		dup, err := p.dedup.Seen(ctx, seenKey)
		if err != nil {
			// Redis being down must not stop webhook processing; the
			// database unique key below is the authoritative dedup.
			log.Printf("webhook dedup cache unavailable: %v", err)
		} else if dup {
			return fiber.StatusOK, nil
		}
	}

	created, stored, err := p.events.CreateIfNotExists(&models.WebhookEvent{
		ProviderEventID: eventID,
		EventType:       ev.Event,
		PayloadJSON:     string(rawPayload),
		SignatureValid:  true,
	})
	if err != nil {
		return fiber.StatusInternalServerError, err
	}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			p.markSeen(ctx, seenKey)
			return fiber.StatusOK, nil
		}
		// The provider redelivered an event whose earlier attempt failed
		// or never finished; run the dispatch again.
	}

	if created && p.archive != nil {
		go func(id string, payload []byte) {
			if err := p.archive.ArchivePayload(context.Background(), id, payload); err != nil {
				log.Printf("webhook payload archive failed for %s: %v", id, err)
			}
		}(eventID, append([]byte(nil), rawPayload...))
	}

	status, procErr := p.dispatch(ctx, &ev)
	p.markProcessed(stored.ID, procErr)
	if procErr == nil {
		p.markSeen(ctx, seenKey)
	}
	return status, procErr
}

func (p *Processor) markSeen(ctx context.Context, key string) {
	if p.dedup == nil || p.dedup.MarkSeen == nil {
		return
	}
	if err := p.dedup.MarkSeen(ctx, key, dedupTTL); err != nil {
		log.Printf("webhook dedup cache not updated: %v", err)
	}
}

func (p *Processor) dispatch(ctx context.Context, ev *event) (int, error) {
	subscriptionID := strings.TrimSpace(ev.Payload.Subscription.Entity.ID)

	var err error
	switch ev.Event {
	case EventSubscriptionCharged:
		err = p.subs.Renew(ctx, subscriptionID)
	case EventSubscriptionCancelled:
		err = p.subs.Expire(ctx, subscriptionID)
	default:
		// activated/completed/paused/resumed and anything unknown are
		// informational; acknowledge so the provider stops retrying.
		return fiber.StatusOK, nil
	}

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No local subscription for this provider id; nothing to do
			// and retrying will not change that.
			return fiber.StatusOK, nil
		}
		return fiber.StatusInternalServerError, err
	}
	return fiber.StatusOK, nil
}

func (p *Processor) markProcessed(eventID uint, procErr error) {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := p.events.MarkProcessed(eventID, msg); err != nil {
		log.Printf("failed to mark webhook event %d processed: %v", eventID, err)
	}
}
