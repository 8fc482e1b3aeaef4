package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/reconciliation-service/internal/domain"
)

// Normalization failures are business-data problems, not system faults: the
// webhook is acknowledged with 200 so the gateway does not retry, and the
// event is logged for manual investigation.
var (
	// ErrMalformedNotification means the payload could not be mapped into the
	// internal event vocabulary (missing transaction id, bad refs, bad JSON).
	ErrMalformedNotification = errors.New("malformed gateway notification")
	// ErrUnsupportedEvent means the gateway sent an event type this service
	// does not process. Acknowledged and dropped.
	ErrUnsupportedEvent = errors.New("unsupported gateway event type")
)

// Normalizer maps one gateway's native notification shape into a PaymentEvent.
type Normalizer interface {
	Space() string
	Normalize(body []byte) (*domain.PaymentEvent, error)
}

func parseRef(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", ErrMalformedNotification, field, raw)
	}
	return id, nil
}

func parseOptionalRef(raw string) *uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &id
}

func parseEventTime(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
		return t
	}
	return time.Now().UTC()
}
