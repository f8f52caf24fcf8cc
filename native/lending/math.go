package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

const SecondsPerDay uint64 = 86_400

// InterestScale is the fixed-point denominator of daily interest rates: a
// rate of 10^18 is one percent per day.
var InterestScale = uint256.MustFromDecimal("100000000000000000000")

// OwedValue returns filled plus simple interest for the whole days covered by
// duration: filled + filled*floor(duration/86400)*rate/10^20.
func OwedValue(filled, dailyRate *uint256.Int, durationSeconds uint64) (*uint256.Int, error) {
	principal := cloneAmount(filled)
	rate := cloneAmount(dailyRate)
	days := uint256.NewInt(durationSeconds / SecondsPerDay)

	interest, overflow := new(uint256.Int).MulOverflow(principal, days)
	if overflow {
		return nil, fmt.Errorf("%w: owed value", ErrOverflow)
	}
	interest, overflow = interest.MulOverflow(interest, rate)
	if overflow {
		return nil, fmt.Errorf("%w: owed value", ErrOverflow)
	}
	interest.Div(interest, InterestScale)
	owed, overflow := new(uint256.Int).AddOverflow(principal, interest)
	if overflow {
		return nil, fmt.Errorf("%w: owed value", ErrOverflow)
	}
	return owed, nil
}
