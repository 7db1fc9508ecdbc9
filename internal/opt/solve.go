package opt

import "time"

// Solve dispatches to a solver by problem size (orders x riders):
// exact Hungarian up to hungarianThreshold, auction up to auctionLimit,
// greedy beyond. A Hungarian run that exceeds timeout degrades to the
// next tier with a best-effort partial result; unassigned orders stay
// pending and retry next cycle.
func Solve(m Matrix, hungarianThreshold int, timeout time.Duration, forceGreedy bool) Result {
	if forceGreedy {
		return Greedy{}.Optimize(m)
	}
	size := m.size()
	switch {
	case size <= hungarianThreshold:
		h := Hungarian{}
		if timeout > 0 {
			h.Deadline = time.Now().Add(timeout)
		}
		if rows, ok := h.solve(m); ok {
			return resultFromRows(m, rows, AlgoHungarian)
		}
		if size <= auctionLimit {
			return Auction{}.Optimize(m)
		}
		return Greedy{}.Optimize(m)
	case size <= auctionLimit:
		return Auction{}.Optimize(m)
	default:
		return Greedy{}.Optimize(m)
	}
}
