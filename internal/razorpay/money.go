package razorpay

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ToMajorUnits converts a Razorpay minor-unit amount (paise) into whole
// rupees, rounding half away from zero.
func ToMajorUnits(minor int64) int64 {
	return decimal.New(minor, -2).Round(0).IntPart()
}

// ParseAmount coerces a metadata amount such as "499" or "499.00" into whole
// units. Only positive values are accepted.
func ParseAmount(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	v := d.Round(0).IntPart()
	if !d.IsPositive() || v <= 0 {
		return 0, false
	}
	return v, true
}
