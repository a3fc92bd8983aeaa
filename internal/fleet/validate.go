package fleet

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/runferry/portal/model"
)

const maxNameLength = 100

var boatIDPattern = regexp.MustCompile(`^[A-Z0-9]{6,20}$`)

// NormalizeBoatID uppercases and validates a boat ID.
func NormalizeBoatID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return "", model.NewMissingFieldError("boatId")
	}
	if !boatIDPattern.MatchString(id) {
		return "", model.NewError(model.ErrInvalidBoatID, "Boat ID must be 6 to 20 letters or digits")
	}
	return id, nil
}

// ValidateCoordinates checks that c is a real WGS84 position.
func ValidateCoordinates(c LatLng) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) ||
		c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return model.NewError(model.ErrInvalidCoordinates, "Coordinates are out of range").
			WithMeta("lat", c.Lat).
			WithMeta("lng", c.Lng)
	}
	return nil
}

// CleanName trims raw, strips angle brackets and checks the length.
func CleanName(field, raw string) (string, error) {
	name := strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(raw))
	if name == "" {
		return "", model.NewMissingFieldError(field)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", model.NewValidationError([]model.FieldError{{
			Field:   field,
			Code:    "TOO_LONG",
			Message: "must be at most 100 characters",
		}})
	}
	return name, nil
}
