package service

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
)

// Column limits of the events and reservations tables.
const (
	maxTitleLen       = 100
	maxDescriptionLen = 1000
	maxVenueLen       = 100
	maxCityLen        = 50
	maxImageURLLen    = 255
	maxCommentLen     = 500
)

var maxUnitPrice = decimal.RequireFromString("99999999.99")

func checkText(field, value string, required bool, limit int) error {
	if required && value == "" {
		return apperr.Invalid("%s is required", field)
	}
	if utf8.RuneCountInString(value) > limit {
		return apperr.Invalid("%s must be at most %d characters", field, limit)
	}
	return nil
}

func normalizeEvent(e *model.Event) {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	e.Venue = strings.TrimSpace(e.Venue)
	e.City = strings.TrimSpace(e.City)
	e.ImageURL = strings.TrimSpace(e.ImageURL)
	e.Category = model.Category(strings.ToUpper(strings.TrimSpace(string(e.Category))))
}

// validateEventFields checks field presence, lengths and ranges. Date rules
// are business rules and are checked separately.
func validateEventFields(e model.Event) error {
	checks := []error{
		checkText("Title", e.Title, true, maxTitleLen),
		checkText("Description", e.Description, false, maxDescriptionLen),
		checkText("Venue", e.Venue, true, maxVenueLen),
		checkText("City", e.City, true, maxCityLen),
		checkText("Image URL", e.ImageURL, false, maxImageURLLen),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if _, err := model.ParseCategory(string(e.Category)); err != nil {
		return apperr.Invalid("Unknown category %q", e.Category)
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return apperr.Invalid("Start and end dates are required")
	}
	if e.MaxCapacity < 1 {
		return apperr.Invalid("Max capacity must be at least 1")
	}
	if e.UnitPrice.IsNegative() {
		return apperr.Invalid("Unit price cannot be negative")
	}
	if !e.UnitPrice.Equal(e.UnitPrice.Round(2)) {
		return apperr.Invalid("Unit price must have at most 2 decimal places")
	}
	if e.UnitPrice.GreaterThan(maxUnitPrice) {
		return apperr.Invalid("Unit price cannot exceed %s", maxUnitPrice.StringFixed(2))
	}
	return nil
}
