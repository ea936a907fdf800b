package httpx

import (
	"errors"
	"net/http"
)

// ErrorMapping pairs a sentinel error with the problem response it
// produces.
type ErrorMapping struct {
	Err    error
	Status int
	Title  string
}

// RespondError writes the problem for the first mapping whose sentinel
// err wraps. Unmapped errors become an opaque 500 so internals never
// leak; the return value tells the caller whether to log.
func RespondError(w http.ResponseWriter, err error, mappings []ErrorMapping) bool {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			Problem(w, m.Status, m.Title, err.Error())
			return true
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
	return false
}
