// Package identity resolves the acting user for audit attribution.
package identity

import (
	"net/http"

	"f0oster/locmaster/records"
)

// HeaderActor carries the display name of the acting user. The API
// boundary does not authenticate; upstream infrastructure sets the header.
const HeaderActor = "X-Actor"

// FromRequest returns the acting user's display name, or the system actor
// when the request carries none.
func FromRequest(r *http.Request) string {
	return Normalize(r.Header.Get(HeaderActor))
}

// Normalize maps an empty actor to the system actor used for unattended
// changes.
func Normalize(actor string) string {
	if actor == "" {
		return records.SourceSystem
	}
	return actor
}
