// Package sources implements the five external data-source adapters:
// GA4 analytics, Search Console, PageSpeed Insights, HubSpot CMS and the
// sitemap link checker. Each adapter is an independent failure domain:
// recoverable remote trouble yields empty or partial results, while typed
// errors surface to the orchestrator to be recorded as step errors.
package sources

import (
	"context"
	"errors"
	"fmt"
)

// RemoteError is a non-2xx or transport failure from an external API.
// Non-fatal at stage level.
type RemoteError struct {
	Source string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s returned %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Source, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// DataError is a malformed external payload (unparseable sitemap, missing
// audit block). Non-fatal; callers treat the result as empty.
type DataError struct {
	Source string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s returned malformed data: %v", e.Source, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a remote or data error the pipeline
// can absorb as a step error.
func IsRecoverable(err error) bool {
	var re *RemoteError
	var de *DataError
	return errors.As(err, &re) || errors.As(err, &de) || errors.Is(err, context.DeadlineExceeded)
}

// TokenSource supplies a live access token for the Google adapters.
// Implemented by auth.Broker.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// DateRange is an inclusive reporting window.
type DateRange struct {
	Start string // YYYY-MM-DD
	End   string
}
