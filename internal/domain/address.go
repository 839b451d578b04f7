package domain

import (
	"regexp"
	"strings"
	"time"
)

type AddressType string

const (
	AddressHome  AddressType = "Home"
	AddressWork  AddressType = "Work"
	AddressOther AddressType = "Other"
)

func (t AddressType) Valid() bool {
	switch t {
	case AddressHome, AddressWork, AddressOther:
		return true
	}
	return false
}

type Address struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Type         AddressType `json:"type"`
	Street       string      `json:"street"`
	Apartment    string      `json:"apartment,omitempty"`
	City         string      `json:"city"`
	State        string      `json:"state"`
	ZipCode      string      `json:"zip_code"`
	Instructions string      `json:"instructions,omitempty"`
	IsDefault    bool        `json:"is_default"`
	CreatedAt    time.Time   `json:"created_at"`
}

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// Validate returns the first field-level problem with the address.
func (a Address) Validate() error {
	switch {
	case !a.Type.Valid():
		return &ValidationError{Field: "type", Message: "address type must be Home, Work or Other"}
	case strings.TrimSpace(a.Street) == "":
		return &ValidationError{Field: "street", Message: "street is required"}
	case strings.TrimSpace(a.City) == "":
		return &ValidationError{Field: "city", Message: "city is required"}
	case strings.TrimSpace(a.State) == "":
		return &ValidationError{Field: "state", Message: "state is required"}
	case !zipPattern.MatchString(strings.TrimSpace(a.ZipCode)):
		return &ValidationError{Field: "zip_code", Message: "invalid ZIP code"}
	}
	return nil
}

var phoneStrip = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizeContactPhone strips punctuation and validates a 10-15 digit number.
func NormalizeContactPhone(phone string) (string, error) {
	p := phoneStrip.Replace(strings.TrimSpace(phone))
	plus := strings.HasPrefix(p, "+")
	digits := strings.TrimPrefix(p, "+")
	if digits == "" {
		return "", &ValidationError{Field: "contact_phone", Message: "contact phone is required"}
	}
	if len(digits) < 10 || len(digits) > 15 {
		return "", &ValidationError{Field: "contact_phone", Message: "contact phone must have 10 to 15 digits"}
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "contact_phone", Message: "contact phone must contain digits only"}
		}
	}
	if plus {
		return "+" + digits, nil
	}
	return digits, nil
}
