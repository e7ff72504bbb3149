package shared

import "errors"

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoPrincipal indicates the request context carries no authenticated actor.
	ErrNoPrincipal = errors.New("no authenticated principal")
)
