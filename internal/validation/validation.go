// Package validation provides Ethiopian format validators and the field
// checks applied to loan applications before compliance evaluation.
package validation

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	phonePattern = regexp.MustCompile(`^(\+251|0)[0-9]{9}$`)
	idPattern    = regexp.MustCompile(`^[0-9]{10}$`)
)

// ValidationError is a field-level validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateEthiopianPhone accepts +251XXXXXXXXX or 0XXXXXXXXX.
func ValidateEthiopianPhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return &ValidationError{
			Field:   "phoneNumber",
			Value:   phone,
			Message: "Invalid Ethiopian phone number format. Use +251XXXXXXXXX or 0XXXXXXXXX",
		}
	}
	return nil
}

// ValidateEthiopianID accepts exactly ten digits.
func ValidateEthiopianID(id string) error {
	if !idPattern.MatchString(id) {
		return &ValidationError{
			Field:   "idNumber",
			Value:   id,
			Message: "Ethiopian ID must be exactly 10 digits",
		}
	}
	return nil
}

// Regions lists the accepted Ethiopian administrative regions.
var Regions = []string{
	"Addis Ababa", "Afar", "Amhara", "Benishangul-Gumuz", "Dire Dawa", "Gambela",
	"Harari", "Oromia", "Sidama", "Somali", "SNNP", "Tigray", "Other",
}

// BusinessSectors lists the accepted business sectors.
var BusinessSectors = []string{
	"Agriculture", "Manufacturing", "Services", "Technology", "Finance", "Retail",
	"Construction", "Transportation", "Healthcare", "Education", "Tourism", "Energy", "Other",
}

// ValidateRegion checks region against Regions.
func ValidateRegion(region string) error {
	for _, r := range Regions {
		if r == region {
			return nil
		}
	}
	return &ValidationError{Field: "region", Value: region, Message: "Invalid Ethiopian region"}
}

// ValidateBusinessSector checks sector against BusinessSectors.
func ValidateBusinessSector(sector string) error {
	for _, s := range BusinessSectors {
		if s == sector {
			return nil
		}
	}
	return &ValidationError{Field: "businessSector", Value: sector, Message: "Invalid business sector"}
}

// FormatETB renders an amount as "1,234.56 ETB".
func FormatETB(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	return humanize.FormatFloat("#,###.##", amount) + " ETB"
}

// ParseETB parses strings such as "ETB 1,250.50" or "1 250". Unparseable
// input yields 0 and false.
func ParseETB(s string) (float64, bool) {
	cleaned := strings.NewReplacer("ETB", "", "etb", "", "Etb", "", ",", "", " ", "", "\t", "").Replace(s)
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
