package numeric

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestCeilDiv(t *testing.T) {
	cases := []struct {
		a, b, want uint64
	}{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{1, 1, 1},
	}
	for _, c := range cases {
		got, err := CeilDiv(uint256.NewInt(c.a), uint256.NewInt(c.b))
		if err != nil {
			t.Fatalf("CeilDiv(%d,%d): %v", c.a, c.b, err)
		}
		if got.Uint64() != c.want {
			t.Errorf("CeilDiv(%d,%d) = %d, want %d", c.a, c.b, got.Uint64(), c.want)
		}
	}
}

func TestCeilDivByZero(t *testing.T) {
	if _, err := CeilDiv(uint256.NewInt(1), uint256.NewInt(0)); err != ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestApplyFactorDeterministic(t *testing.T) {
	amount := uint256.NewInt(1_000_000)
	got, err := ApplyFactor(amount, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Uint64() != 500_000 {
		t.Errorf("ApplyFactor(1_000_000, 0.5) = %d, want 500000", got.Uint64())
	}
}

func TestApplyFactorRejectsOutOfRange(t *testing.T) {
	amount := uint256.NewInt(100)
	if _, err := ApplyFactor(amount, 1.0); err != ErrInvalidFactor {
		t.Fatalf("expected ErrInvalidFactor for f=1.0, got %v", err)
	}
	if _, err := ApplyFactor(amount, -0.1); err != ErrInvalidFactor {
		t.Fatalf("expected ErrInvalidFactor for f<0, got %v", err)
	}
}

func TestApplyRescaledFactorAboveOne(t *testing.T) {
	amount := uint256.NewInt(1000)
	// factor/(1-factor) for factor=0.75 is 3.0
	got, err := ApplyRescaledFactor(amount, 0.75/(1-0.75))
	if err != nil {
		t.Fatal(err)
	}
	if got.Uint64() != 3000 {
		t.Errorf("ApplyRescaledFactor(1000, 3.0) = %d, want 3000", got.Uint64())
	}
}

func TestCheckedSubNegative(t *testing.T) {
	if _, err := CheckedSub(uint256.NewInt(1), uint256.NewInt(2)); err != ErrNegative {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
}

func TestCheckedMulOverflow(t *testing.T) {
	max := new(uint256.Int).Not(uint256.NewInt(0))
	if _, err := CheckedMul(max, uint256.NewInt(2)); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}
