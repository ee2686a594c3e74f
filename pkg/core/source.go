package core

import (
	"context"
	"errors"
	"fmt"
)

// ProfileDataSource is the external collaborator that retrieves a subject's
// observable state. Implementations handle the actual network access
// (authenticated sessions, anonymous endpoints, scraping fallbacks); the
// monitor only consumes the results.
//
// A fetch either completes or fails atomically per subject. Implementations
// must return a *FetchError for retrieval failures so callers can
// distinguish login-gated data from plain network errors.
type ProfileDataSource interface {
	// FetchProfile retrieves a profile snapshot for the username.
	// When authenticated is false, login-gated fields may be left nil in
	// the returned snapshot; that is not an error.
	FetchProfile(ctx context.Context, username string, authenticated bool) (*ProfileSnapshot, error)

	// FetchFriends retrieves both friend relations for the username.
	// The returned snapshot must carry Complete=true only when the fetch
	// genuinely succeeded. Fails with a LoginRequired FetchError when the
	// data is unavailable without authentication.
	FetchFriends(ctx context.Context, username string) (*FriendsSnapshot, error)

	// FetchImage downloads an image artifact by URL.
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// FetchError describes a failed retrieval from the data source.
//
// It unwraps to ErrFetchFailed, or to ErrLoginRequired when the failure is
// specific to login-gated data.
type FetchError struct {
	// Username is the subject the fetch was for (may be empty for images).
	Username string

	// LoginRequired marks failures caused by missing authentication.
	LoginRequired bool

	// Err is the underlying cause, if any.
	Err error
}

// Error returns a formatted error message.
func (e *FetchError) Error() string {
	if e.LoginRequired {
		return fmt.Sprintf("fetch %s: login required", e.Username)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Username, e.Err)
	}
	return fmt.Sprintf("fetch %s: failed", e.Username)
}

// Unwrap maps the failure onto the package sentinel errors.
func (e *FetchError) Unwrap() error {
	if e.LoginRequired {
		return ErrLoginRequired
	}
	if e.Err != nil {
		return e.Err
	}
	return ErrFetchFailed
}

// IsFetchError reports whether err is a retrieval failure from the data
// source (including the login-required subset).
func IsFetchError(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrLoginRequired)
}
