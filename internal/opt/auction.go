package opt

import "math"

// Auction is Bertsekas' auction algorithm adapted for minimization:
// orders bid for riders with value = -cost - price, prices rise by the
// bid margin plus epsilon. It converges near-optimally on mid-sized
// problems and stops at IterationCap regardless, returning whatever
// assignment it holds at that point.
type Auction struct {
	Epsilon      float64
	IterationCap int
}

func (a Auction) Optimize(m Matrix) Result {
	eps := a.Epsilon
	if eps <= 0 {
		eps = 0.01
	}
	limit := a.IterationCap
	if limit <= 0 {
		limit = 1000
	}

	n := len(m.OrderIDs)
	riders := len(m.RiderIDs)
	rowAssign := make([]int, n)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	if n == 0 || riders == 0 {
		return resultFromRows(m, rowAssign, AlgoAuction)
	}

	prices := make([]float64, riders)
	owner := make([]int, riders)
	for j := range owner {
		owner[j] = -1
	}

	pending := make([]int, 0, n)
	for i := n - 1; i >= 0; i-- {
		pending = append(pending, i)
	}

	for iter := 0; iter < limit && len(pending) > 0; iter++ {
		i := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		best, second := math.Inf(-1), math.Inf(-1)
		bestJ := -1
		for j := 0; j < riders; j++ {
			if m.Cost[i][j] >= Sentinel {
				continue
			}
			value := -m.Cost[i][j] - prices[j]
			if value > best {
				second = best
				best = value
				bestJ = j
			} else if value > second {
				second = value
			}
		}
		if bestJ < 0 {
			// No feasible rider for this order; leave it unassigned.
			continue
		}
		margin := best - second
		if math.IsInf(second, -1) {
			margin = eps
		}
		prices[bestJ] += margin + eps

		if prev := owner[bestJ]; prev >= 0 {
			rowAssign[prev] = -1
			pending = append(pending, prev)
		}
		owner[bestJ] = i
		rowAssign[i] = bestJ
	}

	return resultFromRows(m, rowAssign, AlgoAuction)
}
