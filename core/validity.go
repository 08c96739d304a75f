package core

import "fmt"

// Validity is the confidence that a credential is usable without asking the provider.
type Validity int

const (
	// ValidityNone means known invalid or absent.
	ValidityNone Validity = iota
	// ValidityAssumed means restored from storage and not reverified yet.
	ValidityAssumed
	// ValidityCertain means confirmed by a provider response.
	ValidityCertain
)

func (v Validity) String() string {
	switch v {
	case ValidityNone:
		return "none"
	case ValidityAssumed:
		return "assumed"
	case ValidityCertain:
		return "certain"
	default:
		return fmt.Sprintf("validity(%d)", int(v))
	}
}

func (v Validity) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Validity) UnmarshalText(text []byte) error {
	parsed, err := ParseValidity(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func ParseValidity(s string) (Validity, error) {
	switch s {
	case "none", "":
		return ValidityNone, nil
	case "assumed":
		return ValidityAssumed, nil
	case "certain":
		return ValidityCertain, nil
	default:
		return ValidityNone, fmt.Errorf("unknown validity %q", s)
	}
}
