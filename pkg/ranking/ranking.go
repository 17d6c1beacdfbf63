// Package ranking orders solver solutions by their CIP-38 score, applying
// the tie-break the protocol uses to keep solver incentives deterministic
// and griefing-resistant.
package ranking

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Candidate is one solver's scored solution within a ranking round.
type Candidate struct {
	SolverAddress common.Address
	SolutionHash  common.Hash
	SolverName    string
	Score         *uint256.Int
}

// Ranked is the outcome of ranking a round of candidates: the winner,
// ordered runner-ups, and any candidates dropped for a non-positive score
// (CIP-38 rejects zero and negative scores).
type Ranked struct {
	Winner   *Candidate
	Ranked   []Candidate
	Rejected []Candidate
}

// Rank sorts candidates by descending score, breaking ties first by
// solver address and then by solution hash, and drops any candidate whose
// score is not strictly positive.
func Rank(candidates []Candidate) Ranked {
	var eligible, rejected []Candidate
	for _, c := range candidates {
		if c.Score == nil || c.Score.IsZero() {
			rejected = append(rejected, c)
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if cmp := a.Score.Cmp(b.Score); cmp != 0 {
			return cmp > 0
		}
		if cmp := bytes.Compare(a.SolverAddress[:], b.SolverAddress[:]); cmp != 0 {
			return cmp < 0
		}
		return bytes.Compare(a.SolutionHash[:], b.SolutionHash[:]) < 0
	})

	result := Ranked{Ranked: eligible, Rejected: rejected}
	if len(eligible) > 0 {
		result.Winner = &eligible[0]
	}
	return result
}
