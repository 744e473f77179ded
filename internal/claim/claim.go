// Package claim implements the route claim executor (component F): the
// atomic predicate-update against the route table, idempotent re-issue
// protection via driverAlreadyAssigned, and the best-effort external export.
package claim

import (
	"context"
	"time"

	"github.com/driverqueue/dispatcher/internal/eventlog"
	"github.com/driverqueue/dispatcher/internal/metrics"
	"github.com/driverqueue/dispatcher/internal/ops"
	"github.com/driverqueue/dispatcher/internal/store"
)

// exportTimeout bounds the detached export write launched after a commit;
// it runs on its own context since the caller's request context may be
// canceled the moment the reply is sent.
const exportTimeout = 15 * time.Second

// RouteRepo is the subset of store.DB the claim executor needs.
type RouteRepo interface {
	ListAvailableForVehicle(ctx context.Context, vehicleType string) ([]store.Route, error)
	AssignIfAvailable(ctx context.Context, routeID, driverID string) (bool, error)
	DriverAlreadyAssigned(ctx context.Context, driverID string) (bool, error)
	RouteByID(ctx context.Context, id string) (*store.Route, error)
}

// ExportSink mirrors a committed claim to the external spreadsheet-facing
// system. Best-effort: failures are logged, never reverse the claim.
type ExportSink interface {
	SetAssigned(ctx context.Context, routeID, driverID string) error
}

// Executor commits route claims.
type Executor struct {
	routes RouteRepo
	export ExportSink
	log    ops.Logger
	events *eventlog.Log
}

// New returns an Executor. export may be nil if no export sink is configured.
func New(routes RouteRepo, export ExportSink, log ops.Logger, events *eventlog.Log) *Executor {
	return &Executor{routes: routes, export: export, log: log, events: events}
}

// Result is the outcome of a claim attempt.
type Result struct {
	Committed bool
	Route     *store.Route
}

// AlreadyAssigned reports whether driverID currently holds an ASSIGNED
// route. Called both before entering the queue and again before each claim.
func (e *Executor) AlreadyAssigned(ctx context.Context, driverID string) (bool, error) {
	return e.routes.DriverAlreadyAssigned(ctx, driverID)
}

// RoutesFor lists routes visible to vehicleType, in menu display order.
func (e *Executor) RoutesFor(ctx context.Context, vehicleType string) ([]store.Route, error) {
	return e.routes.ListAvailableForVehicle(ctx, vehicleType)
}

// Claim attempts the conditional AVAILABLE->ASSIGNED transition for routeID
// bound to driverID. A zero-rows outcome is reported as !Committed, not an
// error -- the caller re-renders the routes menu.
func (e *Executor) Claim(ctx context.Context, chatID, routeID, driverID string) (Result, error) {
	ok, err := e.routes.AssignIfAvailable(ctx, routeID, driverID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		metrics.ClaimsTotal.WithLabelValues("raced").Inc()
		e.events.Appendf(ctx, "claim_failed", map[string]string{
			"chatId": chatID, "routeId": routeID, "driverId": driverID,
		})
		return Result{Committed: false}, nil
	}

	metrics.ClaimsTotal.WithLabelValues("committed").Inc()
	e.events.Appendf(ctx, "claim_committed", map[string]string{
		"chatId": chatID, "routeId": routeID, "driverId": driverID,
	})

	route, err := e.routes.RouteByID(ctx, routeID)
	if err != nil {
		e.log.WithFields(map[string]interface{}{"routeId": routeID, "err": err}).
			Warn("claim: committed but could not re-fetch route for export")
	}

	if e.export != nil {
		e.launchExport(routeID, driverID)
	}

	return Result{Committed: true, Route: route}, nil
}

// launchExport writes the export record in the background so a slow or
// unavailable object store never delays the driver's confirmation reply.
// Authoritative state is the database; export failure is logged and never
// reverses the claim.
func (e *Executor) launchExport(routeID, driverID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()

		if err := e.export.SetAssigned(ctx, routeID, driverID); err != nil {
			e.log.WithFields(map[string]interface{}{"routeId": routeID, "err": err}).
				Warn("claim: export writeback failed")
			e.events.Appendf(ctx, "export_failed", map[string]string{
				"routeId": routeID, "driverId": driverID, "err": err.Error(),
			})
		}
	}()
}
