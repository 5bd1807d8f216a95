package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// Header carrying the authenticated user set by the edge proxy. The service
// trusts this value; token verification happens upstream.
const Header = "X-User-ID"

var ErrUnauthenticated = errors.New("missing or invalid user identity")

// Resolver extracts the acting user from an incoming request.
type Resolver interface {
	Resolve(r *http.Request) (uuid.UUID, error)
}

// HeaderResolver resolves identity from the X-User-ID request header.
type HeaderResolver struct{}

func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{}
}

func (HeaderResolver) Resolve(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(Header)
	if raw == "" {
		return uuid.Nil, ErrUnauthenticated
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return userID, nil
}
