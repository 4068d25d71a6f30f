package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/monidesk/ibos-backend/api/middleware"
	"github.com/monidesk/ibos-backend/api/validators"
	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/outbox"
	"github.com/monidesk/ibos-backend/pkg/pagination"
)

// CallerFrom returns the authenticated principal or an UNAUTHORIZED error.
func CallerFrom(r *http.Request) (middleware.Principal, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return middleware.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "business context missing")
	}
	return p, nil
}

// ActorRef converts the principal into the actor recorded on domain events.
func ActorRef(p middleware.Principal) *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID:     p.UserID,
		BusinessID: p.BusinessID,
		Role:       string(p.Role),
	}
}

// PathUUID parses a chi URL parameter as a uuid.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

// QueryUUID parses an optional uuid query parameter.
func QueryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	return validators.ParseQueryUUID(r, name)
}

// PageParams reads limit and cursor query parameters.
func PageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
