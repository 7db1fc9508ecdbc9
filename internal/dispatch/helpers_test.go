package dispatch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lastmile/internal/config"
	"lastmile/internal/eta"
	"lastmile/internal/model"
)

// testNow is 13:00 UTC: off-peak, so the traffic multiplier is 1.0 and
// travel times are pure distance.
var testNow = time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

func testEstimator(t *testing.T) *eta.Estimator {
	t.Helper()
	return eta.NewEstimator(
		config.Default().ETA,
		eta.WithClock(func() time.Time { return testNow }),
		eta.WithRand(rand.New(rand.NewSource(99))),
	)
}

func testOrder(id string, pickup, delivery model.Location, deadline time.Time) *model.Order {
	return &model.Order{
		ID:          id,
		Status:      model.OrderPending,
		CreatedAt:   testNow.Add(-5 * time.Minute),
		SLADeadline: deadline,
		Pickup:      model.PickupSpec{Location: pickup},
		Delivery:    model.DeliverySpec{Location: delivery},
		Payload:     model.Payload{WeightKg: 1, VolumeLiters: 2, ItemCount: 1, VehicleRequirement: model.RequireAny},
		Priority:    model.PriorityNormal,
	}
}

func testRider(id string, loc model.Location) *model.Rider {
	return &model.Rider{
		ID:       id,
		Status:   model.RiderActive,
		Location: loc,
		Vehicle: model.Vehicle{
			Type:            model.VehicleBike,
			MaxWeightKg:     5,
			MaxVolumeLiters: 30,
			MaxItems:        5,
			Capabilities:    []model.Capability{model.CapStandard},
		},
		Shift: model.Shift{
			StartTime: testNow.Add(-2 * time.Hour),
			EndTime:   testNow.Add(8 * time.Hour),
		},
		Performance: model.Performance{
			AvgDeliverySuccessRate: 0.9,
			AvgSpeedMultiplier:     1.0,
		},
	}
}

func newEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	e, err := New(cfg,
		WithClock(func() time.Time { return testNow }),
		WithRand(rand.New(rand.NewSource(7))),
	)
	require.NoError(t, err)
	return e
}
