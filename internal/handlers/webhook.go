package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/PortNumber53/show-association/backend/internal/stripe"
)

// maxWebhookBytes matches the payload ceiling Stripe documents for events.
const maxWebhookBytes = 65536

// EventVerifier authenticates a webhook delivery.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (*stripe.Event, error)
}

// EventHandler applies a verified event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *stripe.Event) error
}

// StripeWebhook processes Stripe webhook events. Unverifiable deliveries get a
// 400; a fulfillment failure gets a 500 so Stripe redelivers the event.
func StripeWebhook(verifier EventVerifier, events EventHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			writeErrorText(w, http.StatusBadRequest, "failed to read body")
			return
		}

		event, err := verifier.ConstructEvent(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, stripe.ErrInvalidSignature) {
				log.Printf("[webhook] rejected delivery with invalid signature")
			} else {
				log.Printf("[webhook] failed to parse event: %v", err)
			}
			writeErrorText(w, http.StatusBadRequest, "invalid webhook payload")
			return
		}

		log.Printf("[webhook] Received event %s (type: %s)", event.ID, event.Type)

		if err := events.HandleEvent(r.Context(), event); err != nil {
			log.Printf("[webhook] event %s (%s) failed: %v", event.ID, event.Type, err)
			writeErrorText(w, http.StatusInternalServerError, "webhook processing failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
