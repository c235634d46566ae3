package scheduler

import (
	"errors"
	"fmt"

	"github.com/goodtune/autokey/internal/auth"
)

// ErrNoActionConfigured is returned by Start when neither action token is set.
var ErrNoActionConfigured = errors.New("no action configured")

// AuthorizationError is returned by Start when the latest verdict does not
// allow a run.
type AuthorizationError struct {
	Status auth.Status
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Status.StatusLine())
}
