package problem

import (
	"os"
	"strconv"
	"strings"

	"judgebox/pkg/errors"
)

// ResolveWeights returns one scoreScale per test, in test order, summing to exactly 100.
//
// When any test_<i>.score file exists every test must have one. Without score
// files the weight is 100/N each and the remainder goes to the last test.
func ResolveWeights(p Problem) ([]int, error) {
	n := len(p.Tests)
	if n == 0 {
		return nil, errors.New(errors.TestCaseNotFound).WithMessage("no test cases to weight")
	}

	withScore := 0
	for _, tc := range p.Tests {
		if tc.ScorePath != "" {
			withScore++
		}
	}
	if withScore == 0 {
		weights := make([]int, n)
		for i := range weights {
			weights[i] = 100 / n
		}
		weights[n-1] += 100 % n
		return weights, nil
	}
	if withScore != n {
		return nil, errors.ConfigError("score files present for %d of %d tests", withScore, n)
	}

	weights := make([]int, n)
	sum := 0
	for i, tc := range p.Tests {
		data, err := os.ReadFile(tc.ScorePath)
		if err != nil {
			return nil, errors.Wrapf(err, errors.TestCaseInvalid, "read %s weight", tc.Name())
		}
		w, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, errors.Wrapf(err, errors.TestCaseInvalid, "parse %s weight", tc.Name())
		}
		if w < 0 || w > 100 {
			return nil, errors.Newf(errors.TestCaseInvalid, "%s weight %d outside [0,100]", tc.Name(), w)
		}
		weights[i] = w
		sum += w
	}
	if sum != 100 {
		return nil, errors.ConfigError("test weights sum to %d, want 100", sum)
	}
	return weights, nil
}
