package session

import (
	"testing"

	"github.com/driverqueue/dispatcher/internal/testutil"
)

func TestRenderRoutesMenuSnapshot(t *testing.T) {
	routes := []RouteRef{
		{ID: "r1", Title: "Centro -> Aeroporto", Description: "32km, carga leve", VehicleType: "moto"},
		{ID: "r2", Title: "Zona Norte -> Zona Sul", Description: "18km", VehicleType: "carro"},
	}
	testutil.Snapshot(t, renderRoutesMenu(routes))
}

func TestRenderRoutesMenuEmptySnapshot(t *testing.T) {
	testutil.Snapshot(t, renderRoutesMenu(nil))
}

func TestRenderClaimSuccessSnapshot(t *testing.T) {
	testutil.Snapshot(t, renderClaimSuccess(RouteRef{
		ID:          "r1",
		Title:       "Centro -> Aeroporto",
		Description: "32km, carga leve",
	}))
}
