package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-escrow/api/responses"
	"github.com/angelmondragon/marketplace-escrow/api/validators"
	shipbubblewebhook "github.com/angelmondragon/marketplace-escrow/internal/webhooks/shipbubble"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

const maxWebhookBody = 1 << 20

type ShippingWebhookService interface {
	HandleEvent(ctx context.Context, raw []byte, event shipbubblewebhook.Event) (*shipbubblewebhook.Result, error)
}

type ShippingWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventKey string) (bool, error)
	Delete(ctx context.Context, eventKey string) error
}

// ShippingEvents ingests ShipBubble delivery-status notifications.
func ShippingEvents(svc ShippingWebhookService, guard ShippingWebhookGuard, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if err := shipbubblewebhook.VerifySignature(secret, payload, r.Header.Get(shipbubblewebhook.SignatureHeader)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Provider payloads carry fields we do not model, so unknown keys are tolerated here.
		var event shipbubblewebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
			return
		}
		if err := validators.Struct(&event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// The claim only covers the delivery in flight. Sequential repeats reach the
		// escrow engine, which ignores a status the order already holds.
		key := shipbubblewebhook.EventKey(event.ShipmentID(), event.Status)
		inFlight, err := guard.CheckAndMark(ctx, key)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if inFlight {
			responses.WriteSuccess(w, shipbubblewebhook.Result{Outcome: shipbubblewebhook.OutcomeDuplicate})
			return
		}

		result, err := svc.HandleEvent(ctx, payload, event)
		if relErr := guard.Delete(ctx, key); relErr != nil && logg != nil {
			logg.Error(ctx, "release shipping event claim", relErr)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("shipping event %s processed: %s", key, result.Outcome))
		}
		responses.WriteSuccess(w, result)
	}
}
