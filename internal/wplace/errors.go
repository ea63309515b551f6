package wplace

import (
	"errors"
	"fmt"
)

// FetchError is the single failure shape of Fetch. Status is zero when the
// request never produced an HTTP response.
type FetchError struct {
	Strategy string
	Status   int
	Body     string
	Err      error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status > 0 && e.Body != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Strategy, e.Status, e.Body)
	case e.Status > 0:
		return fmt.Sprintf("%s: HTTP %d", e.Strategy, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
	default:
		return e.Strategy + ": fetch failed"
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Detail returns the text worth showing to a user.
func (e *FetchError) Detail() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return truncate(e.Err.Error())
	}
	return ""
}

// Describe splits any error into a status label and detail for display.
func Describe(err error) (status, detail string) {
	var fe *FetchError
	if errors.As(err, &fe) {
		status = "N/A"
		if fe.Status > 0 {
			status = fmt.Sprintf("%d", fe.Status)
		}
		return status, fe.Detail()
	}
	if err == nil {
		return "N/A", ""
	}
	return "N/A", truncate(err.Error())
}
