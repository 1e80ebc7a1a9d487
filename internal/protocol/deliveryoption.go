package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDeliveryOption is returned for delivery option text that matches no
// known alias.
var ErrInvalidDeliveryOption = errors.New("invalid delivery option")

// DeliveryOption is the fulfillment channel requested for a dispensed prescription.
type DeliveryOption string

const (
	Shipment  DeliveryOption = "SHIPMENT"
	OnPremise DeliveryOption = "ON_PREMISE"
	Delivery  DeliveryOption = "DELIVERY"
)

// aliases maps lowercase free text, as sent by producers in German or English,
// to its delivery option.
var aliases = map[string]DeliveryOption{
	"shipment":        Shipment,
	"versandapotheke": Shipment,
	"versand":         Shipment,
	"belieferung":     Shipment,

	"abholen":      OnPremise,
	"abholung":     OnPremise,
	"reservierung": OnPremise,
	"pick_up":      OnPremise,

	"bote":              Delivery,
	"lokalebelieferung": Delivery,
	"botendienst":       Delivery,
}

// Resolve maps free text to a DeliveryOption using the alias tables. Matching is
// case-insensitive and ignores surrounding whitespace.
func Resolve(text string) (DeliveryOption, error) {
	if opt, ok := aliases[strings.ToLower(strings.TrimSpace(text))]; ok {
		return opt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDeliveryOption, text)
}

// Valid reports whether o is one of the canonical options.
func (o DeliveryOption) Valid() bool {
	switch o {
	case Shipment, OnPremise, Delivery:
		return true
	}
	return false
}

func (o DeliveryOption) String() string {
	return string(o)
}

// MarshalText encodes the option as its lowercase canonical name.
func (o DeliveryOption) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeliveryOption, string(o))
	}
	return []byte(strings.ToLower(string(o))), nil
}

// UnmarshalText accepts a canonical name in any case and falls back to the
// alias tables.
func (o *DeliveryOption) UnmarshalText(text []byte) error {
	canonical := DeliveryOption(strings.ToUpper(strings.TrimSpace(string(text))))
	if canonical.Valid() {
		*o = canonical
		return nil
	}
	opt, err := Resolve(string(text))
	if err != nil {
		return err
	}
	*o = opt
	return nil
}
