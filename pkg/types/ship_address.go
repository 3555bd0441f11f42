package types

import "strings"

// ShipAddress is a pickup or delivery address as the courier needs it.
type ShipAddress struct {
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"required,max=20"`
	Email   string `json:"email" validate:"omitempty,email"`
	Line1   string `json:"line1" validate:"required,max=255"`
	City    string `json:"city" validate:"required,max=80"`
	State   string `json:"state" validate:"required,max=40"`
	Country string `json:"country,omitempty"`
}

// Full renders the single-line form couriers expect.
func (a ShipAddress) Full() string {
	country := strings.TrimSpace(a.Country)
	if country == "" {
		country = "Nigeria"
	}
	parts := []string{}
	for _, part := range []string{a.Line1, a.City, a.State, country} {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
