// Package platform maps platform identifiers to the capabilities needed to
// run their pipeline, and resolves those capabilities to implementations.
//
// The Registry is a closed-world table: adding a platform means adding one
// row. The Locator binds capability tokens to concrete implementations and
// is read-only once frozen, so it is safe for concurrent use without locks.
package platform

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnsupportedPlatform is returned when a platform has no registry row.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrCapabilityNotRegistered is returned when a token has no bound implementation.
	ErrCapabilityNotRegistered = errors.New("capability not registered")
)

// Platform identifies an external data source.
type Platform string

const (
	GoogleMaps  Platform = "google_maps"
	Facebook    Platform = "facebook"
	Instagram   Platform = "instagram"
	TripAdvisor Platform = "tripadvisor"
	Booking     Platform = "booking"
)

// Kind is the capability category needed by one pipeline stage.
type Kind int

const (
	// BusinessKind ensures and reads business profiles.
	BusinessKind Kind = iota
	// ReviewKind collects reviews and related records.
	ReviewKind
	// AnalyticsKind computes derived metrics.
	AnalyticsKind
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case BusinessKind:
		return "business"
	case ReviewKind:
		return "review"
	case AnalyticsKind:
		return "analytics"
	default:
		return "unknown"
	}
}

// Capability is an abstract token for "the thing that can do X for a platform".
type Capability string

// Row is one registry entry.
type Row struct {
	Business  Capability
	Review    Capability
	Analytics Capability
	// IdentifierKey is the profile attribute holding the platform's external ID.
	IdentifierKey string
}

// Token returns the capability token for the given kind.
func (r Row) Token(kind Kind) (Capability, bool) {
	switch kind {
	case BusinessKind:
		return r.Business, r.Business != ""
	case ReviewKind:
		return r.Review, r.Review != ""
	case AnalyticsKind:
		return r.Analytics, r.Analytics != ""
	default:
		return "", false
	}
}

// Registry is a static platform -> capability table.
type Registry struct {
	rows map[Platform]Row
}

// NewRegistry creates a registry from the given rows.
func NewRegistry(rows map[Platform]Row) *Registry {
	copied := make(map[Platform]Row, len(rows))
	for p, r := range rows {
		copied[p] = r
	}
	return &Registry{rows: copied}
}

// DefaultRegistry returns the table of supported platforms.
func DefaultRegistry() *Registry {
	return NewRegistry(map[Platform]Row{
		GoogleMaps: {
			Business:      "google.business",
			Review:        "google.reviews",
			Analytics:     "google.analytics",
			IdentifierKey: "place_id",
		},
		Facebook: {
			Business:      "facebook.business",
			Review:        "facebook.reviews",
			Analytics:     "facebook.analytics",
			IdentifierKey: "page_id",
		},
		Instagram: {
			Business:      "instagram.business",
			Review:        "instagram.snapshots",
			Analytics:     "instagram.analytics",
			IdentifierKey: "username",
		},
		TripAdvisor: {
			Business:      "tripadvisor.business",
			Review:        "tripadvisor.reviews",
			Analytics:     "tripadvisor.analytics",
			IdentifierKey: "location_id",
		},
		Booking: {
			Business:      "booking.business",
			Review:        "booking.reviews",
			Analytics:     "booking.analytics",
			IdentifierKey: "hotel_url",
		},
	})
}

// Lookup returns the row for a platform.
func (r *Registry) Lookup(p Platform) (Row, error) {
	row, ok := r.rows[p]
	if !ok {
		return Row{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, p)
	}
	return row, nil
}

// Supports reports whether the platform has a row.
func (r *Registry) Supports(p Platform) bool {
	_, ok := r.rows[p]
	return ok
}

// Platforms returns all registered platforms in sorted order.
func (r *Registry) Platforms() []Platform {
	out := make([]Platform, 0, len(r.rows))
	for p := range r.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExtractIdentifier returns the platform-specific external identifier stored
// on a profile. It prefers the attribute named by the row's IdentifierKey and
// falls back to the identifier the profile was created with.
func (r *Registry) ExtractIdentifier(p Platform, attributes map[string]string, fallback string) (string, error) {
	row, err := r.Lookup(p)
	if err != nil {
		return "", err
	}
	if v := attributes[row.IdentifierKey]; v != "" {
		return v, nil
	}
	return fallback, nil
}
