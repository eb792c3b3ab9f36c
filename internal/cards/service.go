package cards

import (
	"context"
	"fmt"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

// CardFetcher reads the authoritative card row after the ledger confirms a
// mutation.
type CardFetcher interface {
	GetCardByID(ctx context.Context, id string) (*models.LoyaltyCard, error)
}

// StampPublisher forwards a confirmed stamp change to the other gateway
// instances.
type StampPublisher interface {
	PublishStampUpdate(msg models.StampUpdateMessage) error
}

// Broadcaster delivers a stamp change to this instance's live channels.
type Broadcaster interface {
	BroadcastStampUpdate(update models.StampUpdate, customerID string)
}

// Refresher re-reads a card after a confirmed ledger mutation and fans the
// authoritative stamp count out to every live view. Stamp counts are never
// computed locally; the re-fetch is the only source.
type Refresher struct {
	Cards     CardFetcher
	Publisher StampPublisher
	Hub       Broadcaster
	Instance  string
	Log       *logger.Logger
}

func NewRefresher(cards CardFetcher, publisher StampPublisher, hub Broadcaster, instance string, log *logger.Logger) *Refresher {
	return &Refresher{Cards: cards, Publisher: publisher, Hub: hub, Instance: instance, Log: log}
}

func (r *Refresher) RefreshCard(ctx context.Context, storeID, cardID string) error {
	card, err := r.Cards.GetCardByID(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to re-fetch card %s: %w", cardID, err)
	}

	msg := models.StampUpdateMessage{
		StampUpdate: models.StampUpdate{ID: card.ID, Stamps: card.Stamps},
		StoreID:     storeID,
		CustomerID:  card.CustomerID,
		Origin:      r.Instance,
	}

	// Local views update immediately; Kafka carries the update to the other
	// instances (the consumer ignores its own messages by instance id).
	r.Hub.BroadcastStampUpdate(msg.StampUpdate, msg.CustomerID)

	if r.Publisher != nil {
		if err := r.Publisher.PublishStampUpdate(msg); err != nil {
			r.Log.Error("KAFKA", fmt.Sprintf("Failed to publish stamp update for card %s: %v", cardID, err))
		}
	}
	return nil
}
