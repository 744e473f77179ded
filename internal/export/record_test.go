package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/driverqueue/dispatcher/internal/testutil"
)

func TestRecordMarshalsExpectedShape(t *testing.T) {
	rec := Record{
		RouteID:    "r1",
		DriverID:   "d1",
		AssignedAt: time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	testutil.RequireJSONEqual(t, []byte(`{
		"routeId": "r1",
		"driverId": "d1",
		"assignedAt": "2026-07-29T12:00:00Z"
	}`), body)
}
