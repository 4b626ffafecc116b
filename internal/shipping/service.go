package shipping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoRateAvailable is returned when a service has no usable rate tier for a zone and weight.
	ErrNoRateAvailable = errors.New("no shipping rate available")
	// ErrDimensionsExceeded is returned when a parcel is larger than the service accepts.
	ErrDimensionsExceeded = errors.New("parcel dimensions exceed service limits")
	// ErrServiceNotFound is returned when a service code is unknown.
	ErrServiceNotFound = errors.New("shipping service not found")
	// ErrServiceInactive is returned when pricing is requested for a disabled service.
	ErrServiceInactive = errors.New("shipping service inactive")
	// ErrInvalidParcel is returned for negative weights or dimensions.
	ErrInvalidParcel = errors.New("invalid parcel")
)

// ChargeType describes how a service prices shipments.
type ChargeType string

// ChargeWeight prices by billable weight band.
const ChargeWeight ChargeType = "weight"

// Service is a carrier product such as "Parcel Post" or "Express".
type Service struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Carrier         string          `json:"carrier"`
	ChargeType      ChargeType      `json:"chargeType"`
	FuelLevyPercent decimal.Decimal `json:"fuelLevyPercent"`
	FuelLevyAmount  decimal.Decimal `json:"fuelLevyAmount"`
	HandlingFee     decimal.Decimal `json:"handlingFee"`
	// CubicWeightModifier is the kg per cubic metre used for volumetric weight. Zero disables it.
	CubicWeightModifier decimal.Decimal  `json:"cubicWeightModifier"`
	MaxLengthMM         *decimal.Decimal `json:"maxLengthMm,omitempty"`
	MaxWidthMM          *decimal.Decimal `json:"maxWidthMm,omitempty"`
	MaxHeightMM         *decimal.Decimal `json:"maxHeightMm,omitempty"`
	TaxInclusive        bool             `json:"taxInclusive"`
	IsActive            bool             `json:"isActive"`
	SortOrder           int              `json:"sortOrder"`
	// Categories restricts the service to orders whose items all belong to these categories.
	// Empty means every category.
	Categories []string   `json:"categories,omitempty"`
	Tiers      []RateTier `json:"tiers"`
}

// RateTier is one weight band of a service within a zone. Weights are in kg and both bounds are
// inclusive.
type RateTier struct {
	ZoneCode      string          `json:"zoneCode"`
	MinWeight     decimal.Decimal `json:"minWeight"`
	MaxWeight     decimal.Decimal `json:"maxWeight"`
	MinCharge     decimal.Decimal `json:"minCharge"`
	FirstParcel   decimal.Decimal `json:"firstParcel"`
	PerSubsequent decimal.Decimal `json:"perSubsequent"`
	PerKgRate     decimal.Decimal `json:"perKgRate"`
	DeliveryDays  string          `json:"deliveryDays,omitempty"`
	IsActive      bool            `json:"isActive"`
}

func (t RateTier) width() decimal.Decimal {
	return t.MaxWeight.Sub(t.MinWeight)
}

func (t RateTier) contains(w decimal.Decimal) bool {
	return w.GreaterThanOrEqual(t.MinWeight) && w.LessThanOrEqual(t.MaxWeight)
}

// Allows reports whether every category is accepted by the service.
func (s Service) Allows(categories []string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	return lo.EveryBy(categories, func(c string) bool {
		return lo.ContainsBy(s.Categories, func(allowed string) bool { return strings.EqualFold(allowed, c) })
	})
}

// TiersFor returns the active tiers of the service for a zone in configured order.
func (s Service) TiersFor(zoneCode string) []RateTier {
	return lo.Filter(s.Tiers, func(t RateTier, _ int) bool {
		return t.IsActive && strings.EqualFold(t.ZoneCode, zoneCode)
	})
}

// Validate normalises codes and checks amounts and bands. All problems are reported together.
func (s *Service) Validate() error {
	s.Code = strings.ToUpper(strings.TrimSpace(s.Code))
	if s.ChargeType == "" {
		s.ChargeType = ChargeWeight
	}
	var errs []error
	if s.Code == "" {
		errs = append(errs, fmt.Errorf("service %q: code is required", s.Name))
	}
	if s.ChargeType != ChargeWeight {
		errs = append(errs, fmt.Errorf("service %s: unsupported charge type %q", s.Code, s.ChargeType))
	}
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"fuel levy percent", s.FuelLevyPercent},
		{"fuel levy amount", s.FuelLevyAmount},
		{"handling fee", s.HandlingFee},
		{"cubic weight modifier", s.CubicWeightModifier},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			errs = append(errs, fmt.Errorf("service %s: negative %s", s.Code, a.name))
		}
	}
	for i := range s.Tiers {
		t := &s.Tiers[i]
		t.ZoneCode = strings.ToUpper(strings.TrimSpace(t.ZoneCode))
		if t.ZoneCode == "" {
			errs = append(errs, fmt.Errorf("service %s tier %d: zone code is required", s.Code, i))
		}
		if t.MinWeight.IsNegative() || t.MaxWeight.LessThan(t.MinWeight) {
			errs = append(errs, fmt.Errorf("service %s tier %d: invalid weight band %s-%s", s.Code, i, t.MinWeight, t.MaxWeight))
		}
		if t.MinCharge.IsNegative() || t.FirstParcel.IsNegative() || t.PerSubsequent.IsNegative() || t.PerKgRate.IsNegative() {
			errs = append(errs, fmt.Errorf("service %s tier %d: negative price", s.Code, i))
		}
	}
	return errors.Join(errs...)
}
