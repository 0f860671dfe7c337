package service

import (
	"regexp"
	"strings"

	"qr-scheduler/pkg/storage"
)

// QR ids appear as a path segment of the printed code, so they are kept short
// and URL safe, and may not shadow a route.
var reservedQRIDs = map[string]bool{
	"api":     true,
	"admin":   true,
	"q":       true,
	"v1":      true,
	"health":  true,
	"metrics": true,
}

var qrIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateQRID reports whether id is usable as a QR identifier.
func ValidateQRID(id string) bool {
	if reservedQRIDs[strings.ToLower(id)] {
		return false
	}
	return qrIDRegex.MatchString(id)
}

func checkQRID(field, id string) error {
	if !ValidateQRID(id) {
		return &storage.ValidationError{Field: field, Reason: "must be 1-64 letters, digits, '_' or '-' and not a reserved word"}
	}
	return nil
}
