// Package orders validates order parameters and normalizes quantities and
// prices to the exchange's allowed increments. Everything here is a pure
// function: inputs are never mutated and nothing touches the network, so
// validation failures are always resolved before a request is built.
package orders

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type is the order type. Each type declares which of price/stopPrice are
// mandatory via requiredFields.
type Type string

const (
	TypeMarket          Type = "MARKET"
	TypeLimit           Type = "LIMIT"
	TypeStopLoss        Type = "STOP_LOSS"
	TypeStopLossLimit   Type = "STOP_LOSS_LIMIT"
	TypeTakeProfit      Type = "TAKE_PROFIT"
	TypeTakeProfitLimit Type = "TAKE_PROFIT_LIMIT"
)

var requiredFields = map[Type]struct {
	price     bool
	stopPrice bool
}{
	TypeMarket:          {},
	TypeLimit:           {price: true},
	TypeStopLoss:        {stopPrice: true},
	TypeStopLossLimit:   {price: true, stopPrice: true},
	TypeTakeProfit:      {stopPrice: true},
	TypeTakeProfitLimit: {price: true, stopPrice: true},
}

// Params are the order fields under validation. Numeric fields are strings;
// they are parsed, never coerced.
type Params struct {
	Symbol    string
	Side      string
	Type      string
	Quantity  string
	Price     string
	StopPrice string
}

// Result is the outcome of validation. Errors lists every problem found, not
// just the first.
type Result struct {
	Valid  bool
	Errors []string
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Validate checks the basic shape rules: required fields, enumerations, and
// positive finite numerics. Filter-based checks live in ApplyFilters.
func Validate(p Params) Result {
	var errs []string

	if p.Symbol == "" {
		errs = append(errs, "symbol is required")
	} else if !symbolPattern.MatchString(p.Symbol) {
		errs = append(errs, "symbol must be uppercase alphanumeric")
	}

	switch Side(p.Side) {
	case SideBuy, SideSell:
	case "":
		errs = append(errs, "side is required")
	default:
		errs = append(errs, fmt.Sprintf("side %q must be BUY or SELL", p.Side))
	}

	required, knownType := requiredFields[Type(p.Type)]
	if p.Type == "" {
		errs = append(errs, "type is required")
	} else if !knownType {
		errs = append(errs, fmt.Sprintf("type %q is not a supported order type", p.Type))
	}

	if msg := checkPositive("quantity", p.Quantity, true); msg != "" {
		errs = append(errs, msg)
	}
	if knownType {
		if msg := checkPositive("price", p.Price, required.price); msg != "" {
			errs = append(errs, msg)
		}
		if msg := checkPositive("stopPrice", p.StopPrice, required.stopPrice); msg != "" {
			errs = append(errs, msg)
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// checkPositive validates that value parses as a finite positive decimal.
// When the field is optional an empty value passes; a present value must
// still parse.
func checkPositive(field, value string, required bool) string {
	if value == "" {
		if required {
			return fmt.Sprintf("%s is required for this order type", field)
		}
		return ""
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Sprintf("%s %q is not a valid number", field, value)
	}
	if !d.IsPositive() {
		return fmt.Sprintf("%s must be a positive number", field)
	}
	return ""
}
