package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestOwedValue(t *testing.T) {
	rates := []string{"1", "1000000000000000000", "2500000000000000000", "33333333333333333333", "100000000000000000000"}
	filled := uint256.NewInt(1000)
	for _, r := range rates {
		rate := uint256.MustFromDecimal(r)
		owed, err := OwedValue(filled, rate, 2*SecondsPerDay)
		if err != nil {
			t.Fatalf("rate %s: %v", r, err)
		}
		interest := new(uint256.Int).Mul(uint256.NewInt(2000), rate)
		interest.Div(interest, InterestScale)
		want := new(uint256.Int).Add(uint256.NewInt(1000), interest)
		if !owed.Eq(want) {
			t.Fatalf("rate %s: owed %s, want %s", r, owed.Dec(), want.Dec())
		}
	}

	owed, err := OwedValue(filled, uint256.MustFromDecimal("1000000000000000000"), SecondsPerDay)
	if err != nil || owed.Uint64() != 1010 {
		t.Fatalf("expected 1010 for one day at 1%%, got %v err=%v", owed, err)
	}
}

func TestOwedValueWholeDaysOnly(t *testing.T) {
	rate := uint256.MustFromDecimal("5000000000000000000")
	owed, err := OwedValue(uint256.NewInt(1000), rate, 0)
	if err != nil || owed.Uint64() != 1000 {
		t.Fatalf("zero duration must accrue nothing, got %v err=%v", owed, err)
	}
	owed, err = OwedValue(uint256.NewInt(1000), rate, SecondsPerDay-1)
	if err != nil || owed.Uint64() != 1000 {
		t.Fatalf("partial day must accrue nothing, got %v err=%v", owed, err)
	}
	owed, err = OwedValue(uint256.NewInt(1000), rate, 2*SecondsPerDay-1)
	if err != nil || owed.Uint64() != 1050 {
		t.Fatalf("expected one whole day of interest, got %v err=%v", owed, err)
	}
}

func TestOwedValueOverflow(t *testing.T) {
	huge := new(uint256.Int).SetAllOne()
	if _, err := OwedValue(huge, uint256.NewInt(2), 2*SecondsPerDay); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
