package actorcontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-escrow/api/middleware"
	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
)

// ResolveActor extracts the authenticated caller placed in context by middleware.Auth.
func ResolveActor(r *http.Request) (escrow.Actor, error) {
	ctx := r.Context()
	rawID := middleware.UserIDFromContext(ctx)
	if rawID == "" {
		return escrow.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return escrow.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}

	role, err := enums.ParseUserRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return escrow.Actor{}, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid role")
	}
	return escrow.Actor{UserID: userID, Role: role}, nil
}

// ResolveUserID is ResolveActor for handlers that only need the caller's id.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	actor, err := ResolveActor(r)
	if err != nil {
		return uuid.Nil, err
	}
	return actor.UserID, nil
}
