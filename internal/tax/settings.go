package tax

import (
	"fmt"
	"strings"
)

// Basis selects which address tax is calculated for.
type Basis string

const (
	BasisShipping Basis = "shipping"
	BasisBilling  Basis = "billing"
	BasisStore    Basis = "store"
)

// DisplayMode controls whether prices are shown including or excluding tax.
type DisplayMode string

const (
	DisplayIncl DisplayMode = "incl"
	DisplayExcl DisplayMode = "excl"
)

// ShippingClassInherit makes shipping use the tax class shared by every item in the order.
const ShippingClassInherit = "inherit"

// Settings is the merchant's tax configuration. It is passed explicitly into each calculation.
type Settings struct {
	PricesIncludeTax    bool        `json:"pricesIncludeTax"`
	CalculateTaxBasedOn Basis       `json:"calculateTaxBasedOn"`
	ShippingTaxClass    string      `json:"shippingTaxClass"`
	DisplayPricesInShop DisplayMode `json:"displayPricesInShop"`
	DisplayPricesInCart DisplayMode `json:"displayPricesInCart"`
	RoundAtSubtotal     bool        `json:"roundAtSubtotal"`
	StoreAddress        Destination `json:"storeAddress"`
}

// DefaultSettings returns exclusive prices taxed at the shipping address with per-line rounding.
func DefaultSettings() Settings {
	return Settings{
		CalculateTaxBasedOn: BasisShipping,
		ShippingTaxClass:    ShippingClassInherit,
		DisplayPricesInShop: DisplayExcl,
		DisplayPricesInCart: DisplayExcl,
	}
}

// Validate normalises enum values, filling blanks with defaults.
func (s *Settings) Validate() error {
	s.CalculateTaxBasedOn = Basis(strings.ToLower(strings.TrimSpace(string(s.CalculateTaxBasedOn))))
	switch s.CalculateTaxBasedOn {
	case "":
		s.CalculateTaxBasedOn = BasisShipping
	case BasisShipping, BasisBilling:
	case BasisStore:
		if strings.TrimSpace(s.StoreAddress.Country) == "" {
			return fmt.Errorf("tax settings: store basis requires a store country")
		}
	default:
		return fmt.Errorf("tax settings: unknown basis %q", s.CalculateTaxBasedOn)
	}
	for _, mode := range []*DisplayMode{&s.DisplayPricesInShop, &s.DisplayPricesInCart} {
		*mode = DisplayMode(strings.ToLower(strings.TrimSpace(string(*mode))))
		switch *mode {
		case "":
			*mode = DisplayExcl
		case DisplayIncl, DisplayExcl:
		default:
			return fmt.Errorf("tax settings: unknown display mode %q", *mode)
		}
	}
	s.ShippingTaxClass = strings.ToLower(strings.TrimSpace(s.ShippingTaxClass))
	return nil
}

// Address picks the destination tax is calculated for.
func (s Settings) Address(shipping, billing Destination) Destination {
	switch s.CalculateTaxBasedOn {
	case BasisBilling:
		if strings.TrimSpace(billing.Country) != "" {
			return billing
		}
		return shipping
	case BasisStore:
		return s.StoreAddress
	default:
		return shipping
	}
}

// ShippingClass resolves the class applied to shipping charges given the classes present on the
// order's items.
func (s Settings) ShippingClass(itemClasses []string) string {
	switch s.ShippingTaxClass {
	case "":
		return ClassStandard
	case ShippingClassInherit:
		if len(itemClasses) == 1 {
			return itemClasses[0]
		}
		return ClassStandard
	default:
		return s.ShippingTaxClass
	}
}
