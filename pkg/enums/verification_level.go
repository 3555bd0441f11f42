package enums

import "fmt"

// VerificationLevel selects the escrow policy for an order. Fixed at creation.
type VerificationLevel string

const (
	VerificationLevelSelfArranged VerificationLevel = "self-arranged"
	VerificationLevelBasic        VerificationLevel = "basic"
	VerificationLevelPremium      VerificationLevel = "premium"
)

var validVerificationLevels = []VerificationLevel{
	VerificationLevelSelfArranged,
	VerificationLevelBasic,
	VerificationLevelPremium,
}

// String implements fmt.Stringer.
func (v VerificationLevel) String() string {
	return string(v)
}

// IsValid reports whether the value is a known VerificationLevel.
func (v VerificationLevel) IsValid() bool {
	for _, candidate := range validVerificationLevels {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVerificationLevel converts raw input into a VerificationLevel.
func ParseVerificationLevel(value string) (VerificationLevel, error) {
	for _, candidate := range validVerificationLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid verification level %q", value)
}
