package ranking

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func addr(b byte) common.Address {
	var a common.Address
	a[0] = b
	return a
}

func hash(b byte) common.Hash {
	var h common.Hash
	h[0] = b
	return h
}

func TestRankOrdersByDescendingScore(t *testing.T) {
	candidates := []Candidate{
		{SolverAddress: addr(1), SolutionHash: hash(1), Score: uint256.NewInt(100)},
		{SolverAddress: addr(2), SolutionHash: hash(2), Score: uint256.NewInt(300)},
		{SolverAddress: addr(3), SolutionHash: hash(3), Score: uint256.NewInt(200)},
	}

	result := Rank(candidates)
	if len(result.Ranked) != 3 {
		t.Fatalf("expected 3 ranked candidates, got %d", len(result.Ranked))
	}
	if result.Winner.SolverAddress != addr(2) {
		t.Errorf("winner: got %s want solver 2", result.Winner.SolverAddress)
	}
	for i := 1; i < len(result.Ranked); i++ {
		if result.Ranked[i-1].Score.Cmp(result.Ranked[i].Score) < 0 {
			t.Errorf("ranking not sorted descending at index %d", i)
		}
	}
}

func TestRankRejectsNonPositiveScores(t *testing.T) {
	candidates := []Candidate{
		{SolverAddress: addr(1), SolutionHash: hash(1), Score: uint256.NewInt(0)},
		{SolverAddress: addr(2), SolutionHash: hash(2), Score: nil},
		{SolverAddress: addr(3), SolutionHash: hash(3), Score: uint256.NewInt(50)},
	}

	result := Rank(candidates)
	if len(result.Rejected) != 2 {
		t.Errorf("expected 2 rejected candidates, got %d", len(result.Rejected))
	}
	if len(result.Ranked) != 1 || result.Winner.SolverAddress != addr(3) {
		t.Errorf("expected the single positive-score candidate to win, got %+v", result.Ranked)
	}
}

func TestRankTieBreaksBySolverAddressThenSolutionHash(t *testing.T) {
	candidates := []Candidate{
		{SolverAddress: addr(9), SolutionHash: hash(1), Score: uint256.NewInt(100)},
		{SolverAddress: addr(1), SolutionHash: hash(5), Score: uint256.NewInt(100)},
		{SolverAddress: addr(1), SolutionHash: hash(2), Score: uint256.NewInt(100)},
	}

	result := Rank(candidates)
	if result.Winner.SolverAddress != addr(1) || result.Winner.SolutionHash != hash(2) {
		t.Errorf("expected lowest address then lowest hash to win ties, got solver=%s hash=%s",
			result.Winner.SolverAddress, result.Winner.SolutionHash)
	}
}

func TestRankEmptyInput(t *testing.T) {
	result := Rank(nil)
	if result.Winner != nil {
		t.Error("expected no winner for empty candidate list")
	}
}
