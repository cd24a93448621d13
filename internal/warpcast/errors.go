package warpcast

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoLinkedAccount is matched (via errors.Is) by API errors reporting that
// an address has no Farcaster account verified against it. Callers treat it
// as expected absence.
var ErrNoLinkedAccount = errors.New("warpcast: no farcaster account linked to address")

const noLinkedAccountPrefix = "No FID has connected"

// APIError is returned when Warpcast answers with an error payload or a
// non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Path       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("warpcast %s: %s (status %d)", e.Path, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("warpcast %s returned status: %d", e.Path, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNoLinkedAccount && strings.HasPrefix(e.Message, noLinkedAccountPrefix)
}
