package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marketplace-escrow/api/responses"
	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

// ExpiredEscrowProcessor is the sweep entry point shared with the cron worker.
type ExpiredEscrowProcessor interface {
	ProcessExpired(ctx context.Context) (*escrow.SweepResult, error)
}

// AdminProcessExpiredEscrows runs one inspection sweep on demand.
func AdminProcessExpiredEscrows(processor ExpiredEscrowProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if processor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}

		result, err := processor.ProcessExpired(r.Context())
		if result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// per-order failures are counted in the result; the sweep itself completed
		if err != nil {
			logg.Error(r.Context(), "escrow sweep finished with failures", err)
		}

		ctx := logg.WithFields(r.Context(), map[string]any{
			"scanned":  result.Scanned,
			"released": result.Released,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		})
		logg.Info(ctx, "escrow sweep triggered manually")
		responses.WriteSuccess(w, result)
	}
}
