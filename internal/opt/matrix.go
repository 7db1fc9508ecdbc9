// Package opt solves the per-cycle order/rider assignment problem over a
// dense cost matrix. Three solvers share one Optimize contract; Solve
// picks among them by problem size and falls back when the exact solver
// exceeds its time budget.
package opt

// Sentinel marks an infeasible (order, rider) pair in the cost matrix.
// Solvers never return assignments at or above this cost.
const Sentinel = 1e10

// Solver algorithm names, reported in Result for telemetry.
const (
	AlgoHungarian = "hungarian"
	AlgoAuction   = "auction"
	AlgoGreedy    = "greedy"
)

// Problem sizes (orders x riders) above this use greedy regardless of
// configuration.
const auctionLimit = 50000

// Matrix is the dense assignment input. Cost[i][j] is the scorer cost of
// assigning OrderIDs[i] to RiderIDs[j], or Sentinel when infeasible.
type Matrix struct {
	OrderIDs []string
	RiderIDs []string
	Cost     [][]float64
}

func (m Matrix) size() int { return len(m.OrderIDs) * len(m.RiderIDs) }

// Result is the solver output: a feasible order -> rider mapping and the
// summed cost of the chosen pairs.
type Result struct {
	Assignments map[string]string
	TotalCost   float64
	Algorithm   string
}

// Optimizer is the shared capability of the three solvers.
type Optimizer interface {
	Optimize(m Matrix) Result
}

func resultFromRows(m Matrix, rowAssign []int, algo string) Result {
	res := Result{Assignments: map[string]string{}, Algorithm: algo}
	for i, j := range rowAssign {
		if j < 0 || j >= len(m.RiderIDs) {
			continue
		}
		if m.Cost[i][j] >= Sentinel {
			continue
		}
		res.Assignments[m.OrderIDs[i]] = m.RiderIDs[j]
		res.TotalCost += m.Cost[i][j]
	}
	return res
}
