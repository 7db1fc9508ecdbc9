package opt

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func matrix3x3() Matrix {
	return Matrix{
		OrderIDs: []string{"o0", "o1", "o2"},
		RiderIDs: []string{"r0", "r1", "r2"},
		Cost: [][]float64{
			{0.5, 0.8, 0.7},
			{0.6, 0.4, 0.5},
			{0.9, 0.3, 0.6},
		},
	}
}

func TestHungarianKnownOptimum(t *testing.T) {
	res := Hungarian{}.Optimize(matrix3x3())
	require.Equal(t, AlgoHungarian, res.Algorithm)
	require.Len(t, res.Assignments, 3)
	// Optimal permutation: o0->r0, o1->r2, o2->r1 with cost 1.3.
	require.InDelta(t, 1.3, res.TotalCost, 1e-9)
	require.Equal(t, "r0", res.Assignments["o0"])
	require.Equal(t, "r2", res.Assignments["o1"])
	require.Equal(t, "r1", res.Assignments["o2"])
}

func TestHungarianBeatsEveryPermutation(t *testing.T) {
	m := matrix3x3()
	res := Hungarian{}.Optimize(m)
	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, p := range perms {
		total := 0.0
		for i, j := range p {
			total += m.Cost[i][j]
		}
		require.LessOrEqual(t, res.TotalCost, total+1e-9, "permutation %v", p)
	}
}

func TestHungarianRectangularPadding(t *testing.T) {
	m := Matrix{
		OrderIDs: []string{"o0", "o1", "o2"},
		RiderIDs: []string{"r0", "r1"},
		Cost: [][]float64{
			{0.1, 0.9},
			{0.2, 0.3},
			{0.8, 0.2},
		},
	}
	res := Hungarian{}.Optimize(m)
	// Only two riders exist; at most two orders can be matched and no
	// rider twice.
	require.Len(t, res.Assignments, 2)
	seen := map[string]bool{}
	for _, rid := range res.Assignments {
		require.False(t, seen[rid], "rider %s assigned twice", rid)
		seen[rid] = true
	}
	require.InDelta(t, 0.3, res.TotalCost, 1e-9) // o0->r0 (0.1) + o2->r1 (0.2)
}

func TestSentinelPairsNeverAssigned(t *testing.T) {
	m := Matrix{
		OrderIDs: []string{"o0", "o1"},
		RiderIDs: []string{"r0", "r1"},
		Cost: [][]float64{
			{Sentinel, Sentinel},
			{0.4, Sentinel},
		},
	}
	for _, solver := range []Optimizer{Hungarian{}, Auction{}, Greedy{}} {
		res := solver.Optimize(m)
		require.NotContains(t, res.Assignments, "o0", "%s assigned an infeasible order", res.Algorithm)
		require.Equal(t, "r0", res.Assignments["o1"])
	}
}

func TestHungarianNotWorseThanGreedy(t *testing.T) {
	// Deterministic pseudo-random costs, no shared riders cheap for all.
	n, m := 8, 8
	mat := Matrix{Cost: make([][]float64, n)}
	for i := 0; i < n; i++ {
		mat.OrderIDs = append(mat.OrderIDs, fmt.Sprintf("o%d", i))
		mat.Cost[i] = make([]float64, m)
		for j := 0; j < m; j++ {
			mat.Cost[i][j] = float64((i*7+j*13)%29) / 29.0
		}
	}
	for j := 0; j < m; j++ {
		mat.RiderIDs = append(mat.RiderIDs, fmt.Sprintf("r%d", j))
	}
	hung := Hungarian{}.Optimize(mat)
	greedy := Greedy{}.Optimize(mat)
	require.Len(t, hung.Assignments, n)
	require.LessOrEqual(t, hung.TotalCost, greedy.TotalCost+1e-9)
}

func TestAuctionFindsFeasibleMatching(t *testing.T) {
	res := Auction{}.Optimize(matrix3x3())
	require.Equal(t, AlgoAuction, res.Algorithm)
	require.Len(t, res.Assignments, 3)
	// Auction keeps rider uniqueness.
	seen := map[string]bool{}
	for _, rid := range res.Assignments {
		require.False(t, seen[rid])
		seen[rid] = true
	}
	// With epsilon 0.01 on this matrix the auction lands on the optimum.
	require.InDelta(t, 1.3, res.TotalCost, 0.1)
}

func TestGreedyAllowsRiderReuse(t *testing.T) {
	m := Matrix{
		OrderIDs: []string{"o0", "o1"},
		RiderIDs: []string{"r0", "r1"},
		Cost: [][]float64{
			{0.1, 0.5},
			{0.2, 0.6},
		},
	}
	res := Greedy{}.Optimize(m)
	require.Equal(t, "r0", res.Assignments["o0"])
	require.Equal(t, "r0", res.Assignments["o1"])
	require.InDelta(t, 0.3, res.TotalCost, 1e-9)
}

func TestSolveAdaptiveSelection(t *testing.T) {
	small := matrix3x3()
	res := Solve(small, 10000, time.Second, false)
	require.Equal(t, AlgoHungarian, res.Algorithm)

	// Below the hungarian threshold but forced greedy (crisis directive).
	res = Solve(small, 10000, time.Second, true)
	require.Equal(t, AlgoGreedy, res.Algorithm)

	// Size 9 with threshold 4 lands on auction.
	res = Solve(small, 4, time.Second, false)
	require.Equal(t, AlgoAuction, res.Algorithm)
}

func TestSolveLargeGreedyFast(t *testing.T) {
	n, m := 100, 50
	mat := Matrix{Cost: make([][]float64, n)}
	for i := 0; i < n; i++ {
		mat.OrderIDs = append(mat.OrderIDs, fmt.Sprintf("o%d", i))
		mat.Cost[i] = make([]float64, m)
		for j := 0; j < m; j++ {
			mat.Cost[i][j] = float64((i*31+j*17)%97) / 97.0
		}
	}
	for j := 0; j < m; j++ {
		mat.RiderIDs = append(mat.RiderIDs, fmt.Sprintf("r%d", j))
	}
	start := time.Now()
	res := Greedy{}.Optimize(mat)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Len(t, res.Assignments, n)
}

func TestSolveEmptyMatrix(t *testing.T) {
	res := Solve(Matrix{}, 10000, time.Second, false)
	require.Empty(t, res.Assignments)
	require.Zero(t, res.TotalCost)
}
