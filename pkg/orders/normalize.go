package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Filter is the per-symbol constraint set from the exchange's metadata
// endpoint. Empty fields mean the exchange did not supply that constraint
// and the corresponding check is skipped.
type Filter struct {
	MinPrice    string
	MaxPrice    string
	TickSize    string
	MinQty      string
	MaxQty      string
	StepSize    string
	MinNotional string
}

// NormalizeQuantity floors qty to the nearest multiple of step, rendered at
// the precision implied by step's decimal places. A zero or empty step
// returns qty unchanged.
func NormalizeQuantity(qty, step string) (string, error) {
	return floorToIncrement("quantity", qty, step)
}

// NormalizePrice floors price to the nearest multiple of tick, rendered at
// the precision implied by tick's decimal places.
func NormalizePrice(price, tick string) (string, error) {
	return floorToIncrement("price", price, tick)
}

func floorToIncrement(field, value, increment string) (string, error) {
	if increment == "" {
		return value, nil
	}
	inc, err := decimal.NewFromString(increment)
	if err != nil {
		return "", fmt.Errorf("invalid increment %q: %w", increment, err)
	}
	if inc.IsZero() {
		return value, nil
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", field, value, err)
	}

	floored := v.Div(inc).Floor().Mul(inc)

	places := int32(0)
	if inc.Exponent() < 0 {
		places = -inc.Exponent()
	}
	return floored.StringFixed(places), nil
}

// CheckMinNotional fails when price × qty is below the symbol's minimum
// order value, reporting both the computed total and the minimum. An empty
// minimum skips the check.
func CheckMinNotional(price, qty, minNotional string) error {
	if minNotional == "" {
		return nil
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", qty, err)
	}
	min, err := decimal.NewFromString(minNotional)
	if err != nil {
		return fmt.Errorf("invalid minimum notional %q: %w", minNotional, err)
	}

	total := p.Mul(q)
	if total.LessThan(min) {
		return fmt.Errorf("order notional %s is below the minimum %s", total.String(), min.String())
	}
	return nil
}

// ApplyFilters normalizes quantity and price to the filter's increments and
// checks the price band, quantity band, and minimum notional. It returns the
// normalized copy of the params together with a validation result; the input
// is not mutated.
func ApplyFilters(p Params, f Filter) (Params, Result) {
	var errs []string
	normalized := p

	if p.Quantity != "" {
		if q, err := NormalizeQuantity(p.Quantity, f.StepSize); err != nil {
			errs = append(errs, err.Error())
		} else {
			normalized.Quantity = q
		}
	}
	if p.Price != "" {
		if pr, err := NormalizePrice(p.Price, f.TickSize); err != nil {
			errs = append(errs, err.Error())
		} else {
			normalized.Price = pr
		}
	}
	if p.StopPrice != "" {
		if sp, err := NormalizePrice(p.StopPrice, f.TickSize); err != nil {
			errs = append(errs, err.Error())
		} else {
			normalized.StopPrice = sp
		}
	}

	if msg := checkBand("quantity", normalized.Quantity, f.MinQty, f.MaxQty); msg != "" {
		errs = append(errs, msg)
	}
	if normalized.Price != "" {
		if msg := checkBand("price", normalized.Price, f.MinPrice, f.MaxPrice); msg != "" {
			errs = append(errs, msg)
		}
		if err := CheckMinNotional(normalized.Price, normalized.Quantity, f.MinNotional); err != nil {
			errs = append(errs, err.Error())
		}
	}

	return normalized, Result{Valid: len(errs) == 0, Errors: errs}
}

func checkBand(field, value, min, max string) string {
	if value == "" {
		return ""
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Sprintf("%s %q is not a valid number", field, value)
	}
	if min != "" {
		if m, err := decimal.NewFromString(min); err == nil && !m.IsZero() && v.LessThan(m) {
			return fmt.Sprintf("%s %s is below the minimum %s", field, v, m)
		}
	}
	if max != "" {
		if m, err := decimal.NewFromString(max); err == nil && !m.IsZero() && v.GreaterThan(m) {
			return fmt.Sprintf("%s %s is above the maximum %s", field, v, m)
		}
	}
	return ""
}
