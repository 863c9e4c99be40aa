package enums

import (
	"database/sql/driver"
	"fmt"
)

// Mode is the generation kind of a job, fixed at creation
type Mode struct {
	name  string
	value int
}

// generation modes
var (
	ModeTextToImage  = Mode{name: "text-to-image", value: 1}
	ModeImageToImage = Mode{name: "image-to-image", value: 2}
)

// ModeValues lists all modes
var ModeValues = []Mode{ModeTextToImage, ModeImageToImage}

// ParseMode converts a string into Mode
func ParseMode(v string) (Mode, error) {
	for _, m := range ModeValues {
		if m.name == v {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("invalid mode: %q", v)
}

func (e Mode) String() string { return e.name }

// MarshalText implements encoding.TextMarshaler
func (e Mode) MarshalText() ([]byte, error) { return []byte(e.name), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (e *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Value implements driver.Valuer
func (e Mode) Value() (driver.Value, error) { return driverValue(e.name) }

// Scan implements sql.Scanner
func (e *Mode) Scan(value any) error {
	s, err := scanString(value)
	if err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	return e.UnmarshalText([]byte(s))
}

func scanString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("unexpected NULL value")
	default:
		return "", fmt.Errorf("unsupported scan type %T", value)
	}
}

// driverValue rejects the zero value, it is never a valid stored mode
func driverValue(name string) (driver.Value, error) {
	if name == "" {
		return nil, fmt.Errorf("can't store zero enum value")
	}
	return name, nil
}
