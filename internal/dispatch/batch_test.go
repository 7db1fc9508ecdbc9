package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lastmile/internal/config"
	"lastmile/internal/model"
)

func batchOrders(n int) []*model.Order {
	out := make([]*model.Order, 0, n)
	for i := 0; i < n; i++ {
		o := testOrder(
			string(rune('a'+i)),
			model.Location{Lat: 12.97 + float64(i)*0.01, Lng: 77.59 + float64(i)*0.01},
			model.Location{Lat: 12.975 + float64(i)*0.01, Lng: 77.60 + float64(i)*0.01},
			testNow.Add(2*time.Hour),
		)
		out = append(out, o)
	}
	return out
}

func TestOptimizeBatchSizeLimit(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	rider := testRider("r", pickupLoc) // bike: limit 3
	_, err := b.Optimize(rider, batchOrders(4))
	require.ErrorIs(t, err, ErrBatchInfeasible)

	_, err = b.Optimize(rider, batchOrders(3))
	require.NoError(t, err)
}

func TestOptimizeBatchCapacityLimit(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	rider := testRider("r", pickupLoc) // 5 kg capacity
	orders := batchOrders(3)
	orders[1].Payload.WeightKg = 10
	_, err := b.Optimize(rider, orders)
	require.ErrorIs(t, err, ErrBatchInfeasible)
}

func TestOptimizeBatchStopPairing(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	rider := testRider("r", pickupLoc)
	orders := batchOrders(3)
	plan, err := b.Optimize(rider, orders)
	require.NoError(t, err)

	require.Len(t, plan.OrderSequence, 3)
	require.Len(t, plan.Stops, 6)
	require.Greater(t, plan.TotalDistanceKm, 0.0)

	pickupAt := map[string]int{}
	deliveryAt := map[string]int{}
	for i, s := range plan.Stops {
		require.Equal(t, i, s.SequenceIndex)
		// Stops carry the true order coordinates, not placeholders.
		require.True(t, s.Location.Valid())
		require.NotZero(t, s.Location.Lat)
		switch s.Type {
		case model.StopPickup:
			pickupAt[s.OrderID] = i
		case model.StopDelivery:
			deliveryAt[s.OrderID] = i
		}
	}
	for _, o := range orders {
		require.Contains(t, pickupAt, o.ID)
		require.Contains(t, deliveryAt, o.ID)
		require.Less(t, pickupAt[o.ID], deliveryAt[o.ID], "pickup must precede delivery for %s", o.ID)
	}
}

func TestOptimizeBatchSeedsNearestPickup(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	rider := testRider("r", model.Location{Lat: 12.97, Lng: 77.59})
	orders := batchOrders(3) // order "a" is nearest the rider
	plan, err := b.Optimize(rider, orders)
	require.NoError(t, err)
	require.Equal(t, "a", plan.OrderSequence[0])
}

func TestOptimizeBatchDuration(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	rider := testRider("r", pickupLoc)
	orders := batchOrders(2)
	orders[0].Pickup.EstimatedWaitMinutes = 4
	orders[1].Pickup.EstimatedWaitMinutes = 6
	plan, err := b.Optimize(rider, orders)
	require.NoError(t, err)
	// Per order: wait + 10 travel + 3 handoff, plus 10 for the adjacent hop.
	require.Equal(t, (4+10+3)+(6+10+3)+10, plan.TotalDurationMinutes)
}

func TestOptimizeBatchDurationCeiling(t *testing.T) {
	cfg := config.Default().Batching
	cfg.MaxBatchDurationMinutes = 20
	b := NewBatchOptimizer(cfg)
	rider := testRider("r", pickupLoc)
	_, err := b.Optimize(rider, batchOrders(3))
	require.ErrorIs(t, err, ErrBatchInfeasible)
}

func TestOptimizeBatchEmpty(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	plan, err := b.Optimize(testRider("r", pickupLoc), nil)
	require.NoError(t, err)
	require.Empty(t, plan.Stops)
}

func TestTwoOptDoesNotWorsen(t *testing.T) {
	b := NewBatchOptimizer(config.Default().Batching)
	start := model.Location{Lat: 0, Lng: 0}
	// Deliberately shuffled east-west line of pickups.
	var orders []*model.Order
	for i, lng := range []float64{0.4, 0.1, 0.3, 0.2} {
		orders = append(orders, testOrder(string(rune('a'+i)),
			model.Location{Lat: 0, Lng: lng},
			model.Location{Lat: 0.01, Lng: lng},
			testNow.Add(2*time.Hour)))
	}
	seq := b.cheapestInsertion(start, orders)
	improved := b.twoOpt(start, seq)
	require.LessOrEqual(t, pickupPathKm(start, improved), pickupPathKm(start, seq)+1e-9)
	// Optimal sweep visits pickups in increasing longitude.
	for i := 0; i+1 < len(improved); i++ {
		require.Less(t, improved[i].Pickup.Location.Lng, improved[i+1].Pickup.Location.Lng)
	}
}
