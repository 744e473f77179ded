package claim

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/driverqueue/dispatcher/internal/eventlog"
	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/ops"
	"github.com/driverqueue/dispatcher/internal/store"
)

type fakeRoutes struct {
	routes           map[string]*store.Route
	assigned         map[string]bool
	driverAssigned   map[string]bool
	assignErr        error
}

func newFakeRoutes() *fakeRoutes {
	return &fakeRoutes{
		routes:         map[string]*store.Route{},
		assigned:       map[string]bool{},
		driverAssigned: map[string]bool{},
	}
}

func (f *fakeRoutes) ListAvailableForVehicle(_ context.Context, vehicleType string) ([]store.Route, error) {
	var out []store.Route
	for _, r := range f.routes {
		if r.Status == store.RouteAvailable && r.VehicleType == vehicleType {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRoutes) AssignIfAvailable(_ context.Context, routeID, driverID string) (bool, error) {
	if f.assignErr != nil {
		return false, f.assignErr
	}
	r, ok := f.routes[routeID]
	if !ok || r.Status != store.RouteAvailable {
		return false, nil
	}
	r.Status = store.RouteAssigned
	r.DriverID = driverID
	f.driverAssigned[driverID] = true
	return true, nil
}

func (f *fakeRoutes) DriverAlreadyAssigned(_ context.Context, driverID string) (bool, error) {
	return f.driverAssigned[driverID], nil
}

func (f *fakeRoutes) RouteByID(_ context.Context, id string) (*store.Route, error) {
	return f.routes[id], nil
}

// fakeExport's SetAssigned is invoked from the detached goroutine Claim
// launches, so calls is tracked with an atomic counter rather than a plain
// int.
type fakeExport struct {
	calls int32
	err   error
}

func (f *fakeExport) SetAssigned(_ context.Context, _, _ string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func (f *fakeExport) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

func newTestExecutor(t *testing.T, routes *fakeRoutes, export ExportSink) *Executor {
	t.Helper()
	store := kvstore.NewMemStore()
	events := eventlog.New(store, ops.New(logrus.ErrorLevel))
	return New(routes, export, ops.New(logrus.ErrorLevel), events)
}

func TestClaimCommitsOnAvailableRoute(t *testing.T) {
	ctx := context.Background()
	routes := newFakeRoutes()
	routes.routes["r1"] = &store.Route{ID: "r1", VehicleType: "moto", Status: store.RouteAvailable}
	export := &fakeExport{}
	e := newTestExecutor(t, routes, export)

	res, err := e.Claim(ctx, "chat1", "r1", "driver1")
	require.NoError(t, err)
	require.True(t, res.Committed)
	require.Eventually(t, func() bool { return export.callCount() == 1 }, time.Second, time.Millisecond,
		"export write is launched asynchronously and must not block the reply")
}

func TestClaimRacedReportsNotCommittedWithoutError(t *testing.T) {
	ctx := context.Background()
	routes := newFakeRoutes()
	routes.routes["r1"] = &store.Route{ID: "r1", VehicleType: "moto", Status: store.RouteAssigned}
	e := newTestExecutor(t, routes, nil)

	res, err := e.Claim(ctx, "chat1", "r1", "driver1")
	require.NoError(t, err)
	require.False(t, res.Committed)
}

func TestClaimExportFailureDoesNotReverseClaim(t *testing.T) {
	ctx := context.Background()
	routes := newFakeRoutes()
	routes.routes["r1"] = &store.Route{ID: "r1", VehicleType: "moto", Status: store.RouteAvailable}
	export := &fakeExport{err: errors.New("gcs unavailable")}
	e := newTestExecutor(t, routes, export)

	res, err := e.Claim(ctx, "chat1", "r1", "driver1")
	require.NoError(t, err)
	require.True(t, res.Committed, "export failure must not reverse a committed claim")
	require.Equal(t, store.RouteAssigned, routes.routes["r1"].Status)
}

func TestAlreadyAssignedDelegatesToRepo(t *testing.T) {
	ctx := context.Background()
	routes := newFakeRoutes()
	routes.driverAssigned["driver1"] = true
	e := newTestExecutor(t, routes, nil)

	ok, err := e.AlreadyAssigned(ctx, "driver1")
	require.NoError(t, err)
	require.True(t, ok)
}
