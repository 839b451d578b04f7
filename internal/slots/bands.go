package slots

import (
	"errors"
	"fmt"
	"os"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Band is a recurring daily delivery window.
type Band struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Start string `yaml:"start"` // HH:MM
	End   string `yaml:"end"`   // HH:MM
	Fee   string `yaml:"fee"`

	start, end time.Duration
	fee        d.Money
}

type bandFile struct {
	Bands []Band `yaml:"bands"`
}

// DefaultBands are used when no band file is configured.
func DefaultBands() []Band {
	bands := []Band{
		{ID: "lunch", Label: "Lunch 11:30 AM - 1:30 PM", Start: "11:30", End: "13:30", Fee: "1.99"},
		{ID: "afternoon", Label: "Afternoon 2:00 PM - 4:00 PM", Start: "14:00", End: "16:00", Fee: "2.49"},
		{ID: "dinner", Label: "Dinner 5:30 PM - 7:30 PM", Start: "17:30", End: "19:30", Fee: "2.99"},
		{ID: "late", Label: "Late 8:00 PM - 10:00 PM", Start: "20:00", End: "22:00", Fee: "3.49"},
	}
	out, err := compileBands(bands)
	if err != nil {
		panic(err)
	}
	return out
}

// LoadBands reads a YAML band file.
func LoadBands(path string) ([]Band, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read band file: %w", err)
	}
	return ParseBands(data)
}

func ParseBands(data []byte) ([]Band, error) {
	var f bandFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse band file: %w", err)
	}
	if len(f.Bands) == 0 {
		return nil, errors.New("band file defines no bands")
	}
	return compileBands(f.Bands)
}

func compileBands(bands []Band) ([]Band, error) {
	seen := make(map[string]struct{}, len(bands))
	out := make([]Band, 0, len(bands))
	for _, b := range bands {
		if b.ID == "" || b.ID == asapID {
			return nil, fmt.Errorf("invalid band id %q", b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("duplicate band id %q", b.ID)
		}
		seen[b.ID] = struct{}{}

		var err error
		if b.start, err = parseClock(b.Start); err != nil {
			return nil, fmt.Errorf("band %s start: %w", b.ID, err)
		}
		if b.end, err = parseClock(b.End); err != nil {
			return nil, fmt.Errorf("band %s end: %w", b.ID, err)
		}
		if b.end <= b.start {
			return nil, fmt.Errorf("band %s ends before it starts", b.ID)
		}
		b.fee = decimal.Zero
		if b.Fee != "" {
			if b.fee, err = decimal.NewFromString(b.Fee); err != nil {
				return nil, fmt.Errorf("band %s fee: %w", b.ID, err)
			}
		}
		if b.fee.IsNegative() {
			return nil, fmt.Errorf("band %s fee must not be negative", b.ID)
		}
		if b.Label == "" {
			b.Label = fmt.Sprintf("%s - %s", b.Start, b.End)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
