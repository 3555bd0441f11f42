package shipping

import (
	"strings"

	"github.com/shopspring/decimal"
)

type zone string

const (
	zoneNorthCentral zone = "north_central"
	zoneNorthEast    zone = "north_east"
	zoneNorthWest    zone = "north_west"
	zoneSouthEast    zone = "south_east"
	zoneSouthSouth   zone = "south_south"
	zoneSouthWest    zone = "south_west"
)

const (
	TierStandard = "standard"
	TierExpress  = "express"

	fallbackCourierID   = "fallback"
	fallbackCourierName = "Standard Courier"
)

var stateZones = map[string]zone{
	"benue": zoneNorthCentral, "kogi": zoneNorthCentral, "kwara": zoneNorthCentral, "nasarawa": zoneNorthCentral,
	"niger": zoneNorthCentral, "plateau": zoneNorthCentral, "fct": zoneNorthCentral,

	"adamawa": zoneNorthEast, "bauchi": zoneNorthEast, "borno": zoneNorthEast, "gombe": zoneNorthEast,
	"taraba": zoneNorthEast, "yobe": zoneNorthEast,

	"jigawa": zoneNorthWest, "kaduna": zoneNorthWest, "kano": zoneNorthWest, "katsina": zoneNorthWest,
	"kebbi": zoneNorthWest, "sokoto": zoneNorthWest, "zamfara": zoneNorthWest,

	"abia": zoneSouthEast, "anambra": zoneSouthEast, "ebonyi": zoneSouthEast, "enugu": zoneSouthEast, "imo": zoneSouthEast,

	"akwa ibom": zoneSouthSouth, "bayelsa": zoneSouthSouth, "cross river": zoneSouthSouth, "delta": zoneSouthSouth,
	"edo": zoneSouthSouth, "rivers": zoneSouthSouth,

	"ekiti": zoneSouthWest, "lagos": zoneSouthWest, "ogun": zoneSouthWest, "ondo": zoneSouthWest,
	"osun": zoneSouthWest, "oyo": zoneSouthWest,
}

var adjacentZones = map[zone][]zone{
	zoneNorthCentral: {zoneNorthWest, zoneNorthEast, zoneSouthWest, zoneSouthEast, zoneSouthSouth},
	zoneNorthWest:    {zoneNorthCentral, zoneNorthEast},
	zoneNorthEast:    {zoneNorthCentral, zoneNorthWest},
	zoneSouthWest:    {zoneNorthCentral, zoneSouthSouth},
	zoneSouthEast:    {zoneNorthCentral, zoneSouthSouth},
	zoneSouthSouth:   {zoneNorthCentral, zoneSouthWest, zoneSouthEast},
}

var (
	sameStateBase    = decimal.NewFromInt(1500)
	sameZoneBase     = decimal.NewFromInt(2500)
	adjacentZoneBase = decimal.NewFromInt(3500)
	distantZoneBase  = decimal.NewFromInt(4500)

	includedWeightKG = decimal.NewFromInt(2)
	perExtraKG       = decimal.NewFromInt(300)
	expressFactor    = decimal.RequireFromString("1.6")
	expressRounding  = decimal.NewFromInt(50)
)

// normalizeState folds the common spellings of a state name into the table key.
func normalizeState(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.TrimSuffix(s, " state")
	s = strings.Join(strings.Fields(s), " ")
	switch s {
	case "abuja", "federal capital territory", "abuja fct", "fct abuja":
		return "fct"
	}
	return s
}

// baseRate prices the route for up to the included weight. Unknown states price as distant.
func baseRate(fromState, toState string) decimal.Decimal {
	from, to := normalizeState(fromState), normalizeState(toState)
	fromZone, okFrom := stateZones[from]
	toZone, okTo := stateZones[to]
	if !okFrom || !okTo {
		return distantZoneBase
	}
	if from == to {
		return sameStateBase
	}
	if fromZone == toZone {
		return sameZoneBase
	}
	for _, z := range adjacentZones[fromZone] {
		if z == toZone {
			return adjacentZoneBase
		}
	}
	return distantZoneBase
}

// fallbackRates returns the synthetic standard and express rates for a route.
func fallbackRates(fromState, toState string, weightKG decimal.Decimal) []Rate {
	standard := baseRate(fromState, toState).Add(weightSurcharge(weightKG))
	express := standard.Mul(expressFactor).Div(expressRounding).Round(0).Mul(expressRounding)
	return []Rate{
		{
			CourierID:   fallbackCourierID,
			CourierName: fallbackCourierName,
			ServiceCode: "fallback_" + TierStandard,
			Tier:        TierStandard,
			Amount:      standard,
			Currency:    "NGN",
			ETA:         "3-5 days",
		},
		{
			CourierID:   fallbackCourierID,
			CourierName: fallbackCourierName,
			ServiceCode: "fallback_" + TierExpress,
			Tier:        TierExpress,
			Amount:      express,
			Currency:    "NGN",
			ETA:         "1-2 days",
		},
	}
}

func weightSurcharge(weightKG decimal.Decimal) decimal.Decimal {
	extra := weightKG.Sub(includedWeightKG)
	if !extra.IsPositive() {
		return decimal.Zero
	}
	return extra.Ceil().Mul(perExtraKG)
}
