package handler

import (
	"fmt"
	"net/http"
)

// responseEnvelopes wraps error descriptions per status code. Resolved via
// a static table, never dynamic lookup.
var responseEnvelopes = map[int]string{
	http.StatusBadRequest:          "Invalid received data: %s",
	http.StatusUnauthorized:        "Unauthorised Access. Please see error description: %s",
	http.StatusForbidden:           "Forbidden Access. Please see error description: %s",
	http.StatusConflict:            "An error while processing the request occurred. Please see error description: %s",
	http.StatusInternalServerError: "Internal Server Error. Please see error description: %s",
}

func envelopeMessage(status int, description string) string {
	envelope, ok := responseEnvelopes[status]
	if !ok {
		return description
	}
	return fmt.Sprintf(envelope, description)
}
