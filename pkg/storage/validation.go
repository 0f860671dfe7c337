package storage

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var ErrValidation = errors.New("validation failed")

// ValidationError names the offending field. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidateDestination checks the write-time invariants of a destination.
func ValidateDestination(d *Destination) error {
	if strings.TrimSpace(d.QRID) == "" {
		return invalid("qr_id", "required")
	}
	if strings.TrimSpace(d.Label) == "" {
		return invalid("label", "required")
	}
	if !destinationTypes[d.Type] {
		return invalid("type", fmt.Sprintf("unknown destination type %q", d.Type))
	}
	if d.TargetURL != nil {
		if err := ValidateTargetURL(*d.TargetURL); err != nil {
			return err
		}
	}
	if d.StartAt != nil && d.EndAt != nil && d.StartAt.After(*d.EndAt) {
		return invalid("end_at", "must not be before start_at")
	}
	return nil
}

// ValidateTrigger checks the required fields for the trigger's kind and action.
func ValidateTrigger(t *Trigger) error {
	if strings.TrimSpace(t.SourceDestinationID) == "" {
		return invalid("source_destination_id", "required")
	}
	switch t.Kind {
	case KindOnScan, KindOnComplete:
	case KindOnCount:
		if t.Threshold == nil || *t.Threshold < 1 {
			return invalid("threshold", "on_count triggers need a threshold >= 1")
		}
	default:
		return invalid("kind", fmt.Sprintf("unknown trigger kind %q", t.Kind))
	}
	if strings.TrimSpace(t.TargetQRID) == "" {
		return invalid("target_qr_id", "required")
	}
	switch t.Action {
	case ActionActivate, ActionSwitch:
		if t.TargetDestinationID == nil || *t.TargetDestinationID == "" {
			return invalid("target_destination_id", fmt.Sprintf("required for %s", t.Action))
		}
	case ActionDeactivate:
	default:
		return invalid("action", fmt.Sprintf("unknown trigger action %q", t.Action))
	}
	return nil
}

// ValidateTargetURL accepts only public http(s) URLs.
func ValidateTargetURL(raw string) error {
	parsedURL, err := url.ParseRequestURI(raw)
	if err != nil {
		return invalid("target_url", "not a valid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return invalid("target_url", "only http and https allowed")
	}

	host := parsedURL.Hostname()
	if host == "" {
		return invalid("target_url", "missing host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
			ip.IsMulticast() || ip.IsUnspecified() {
			return invalid("target_url", "private or reserved address not allowed")
		}
	} else if strings.Contains(strings.ToLower(host), "localhost") {
		return invalid("target_url", "localhost not allowed")
	}
	if strings.Contains(strings.ToLower(raw), "javascript:") {
		return invalid("target_url", "disallowed scheme")
	}
	return nil
}
