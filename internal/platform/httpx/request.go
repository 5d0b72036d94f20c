package httpx

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Header names carrying the caller identity. Authentication itself happens
// upstream; the services only need the tenant and actor ids.
const (
	HeaderOrgID   = "X-Org-ID"
	HeaderActorID = "X-Actor-ID"
)

// ErrMissingIdentity indicates the tenant or actor header is absent or malformed.
var ErrMissingIdentity = errors.New("missing or malformed identity header")

// Identity extracts the tenant and actor ids from the request headers.
func Identity(r *http.Request) (orgID, actorID uuid.UUID, err error) {
	orgID, err = uuid.Parse(r.Header.Get(HeaderOrgID))
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrMissingIdentity
	}
	actorID, err = uuid.Parse(r.Header.Get(HeaderActorID))
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrMissingIdentity
	}
	return orgID, actorID, nil
}

// URLUUID parses a UUID route parameter.
func URLUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// ParseDate parses a YYYY-MM-DD value.
func ParseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}
