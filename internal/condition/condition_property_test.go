package condition

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// insertionCase is one (key, rank, inclusion) rule to insert into a tree.
type insertionCase struct {
	Segments  []string
	Rank      int
	Inclusion bool
}

func (c insertionCase) key() string {
	k := ""
	for i, s := range c.Segments {
		if i > 0 {
			k += "."
		}
		k += s
	}
	return k
}

func genInsertionCase() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(3, gen.OneConstOf("alpha", "beta", "gamma", "delta")),
		gen.IntRange(0, 1000),
		gen.Bool(),
	).Map(func(vs []any) insertionCase {
		segs := vs[0].([]any)
		strs := make([]string, len(segs))
		for i, s := range segs {
			strs[i] = s.(string)
		}
		return insertionCase{Segments: strs, Rank: vs[1].(int), Inclusion: vs[2].(bool)}
	})
}

// TestConditionTreeCheckDominatesInsertedRank verifies: for every path k
// inserted with rank r, check(k).rank >= r and check(k).inclusion equals
// the inserted node's inclusion, when k is the last rule applied to that
// exact key.
func TestConditionTreeCheckDominatesInsertedRank(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("check(k).rank >= inserted rank and inclusion matches", prop.ForAll(
		func(c insertionCase) bool {
			tr := New()
			tr.Add(c.key(), NewIn(c.Inclusion, c.Rank, nil))
			cond := tr.Check(c.key())
			return cond.Rank >= c.Rank && cond.Inclusion == c.Inclusion
		},
		genInsertionCase(),
	))

	properties.TestingRun(t)
}

// TestConditionTreeMaxChildRankIsTightUpperBound verifies: maxChildRank
// is an upper bound on descendant ranks and is tight after every
// mutation (some descendant achieves exactly maxChildRank, unless there
// are no descendants).
func TestConditionTreeMaxChildRankIsTightUpperBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("maxChildRank bounds and is achieved by some descendant", prop.ForAll(
		func(cases []insertionCase) bool {
			tr := New()
			for _, c := range cases {
				tr.Add(c.key(), NewIn(c.Inclusion, c.Rank, nil))
			}
			return verifyMaxChildRank(tr.root)
		},
		gen.SliceOfN(8, genInsertionCase()),
	))

	properties.TestingRun(t)
}

func verifyMaxChildRank(n *Node) bool {
	maxSeen := -1
	for _, c := range n.children {
		if c.Rank > maxSeen {
			maxSeen = c.Rank
		}
		if c.maxChildRank > maxSeen {
			maxSeen = c.maxChildRank
		}
		if !verifyMaxChildRank(c) {
			return false
		}
	}
	return maxSeen == n.maxChildRank
}

// TestConditionTreeForceAlwaysReplaces verifies: inserting with force=true
// always replaces whatever condition previously resolved for that key,
// regardless of prior rank.
func TestConditionTreeForceAlwaysReplaces(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("force insertion dominates prior rank", prop.ForAll(
		func(first, second insertionCase) bool {
			key := fmt.Sprintf("fixed.%s", first.key())
			tr := New()
			tr.Add(key, NewIn(first.Inclusion, first.Rank, nil))
			tr.AddForce(key, NewIn(second.Inclusion, second.Rank, nil))
			cond := tr.Check(key)
			return cond.Inclusion == second.Inclusion
		},
		genInsertionCase(), genInsertionCase(),
	))

	properties.TestingRun(t)
}

// TestConditionTreeEncodeDecodeRoundTripProperty verifies: serialize then
// deserialize yields a tree that produces identical check answers for
// every key in the original.
func TestConditionTreeEncodeDecodeRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("round trip preserves check answers", prop.ForAll(
		func(cases []insertionCase) bool {
			tr := New()
			for _, c := range cases {
				tr.Add(c.key(), NewIn(c.Inclusion, c.Rank, nil))
			}
			buf, err := tr.EncodeBytes()
			if err != nil {
				return false
			}
			decoded, err := DecodeBytes(buf)
			if err != nil {
				return false
			}
			for _, c := range cases {
				if tr.Check(c.key()) != decoded.Check(c.key()) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, genInsertionCase()),
	))

	properties.TestingRun(t)
}
