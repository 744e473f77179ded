// Package export implements the best-effort claim writeback sink: a JSON
// mirror of each committed claim, written to an external object store for
// downstream reporting to read.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// Record is the JSON body mirrored per committed claim.
type Record struct {
	RouteID    string    `json:"routeId"`
	DriverID   string    `json:"driverId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Sink writes Records to cloud.google.com/go/storage under
// exports/<date>/<routeId>.json. It satisfies claim.ExportSink.
type Sink struct {
	client *storage.Client
	bucket string
	log    ops.Logger
	now    func() time.Time
}

// New returns a Sink writing into bucket via client.
func New(client *storage.Client, bucket string, log ops.Logger) *Sink {
	return &Sink{client: client, bucket: bucket, log: log, now: time.Now}
}

// SetAssigned writes the committed claim's export record. Failures here must
// never reverse the claim -- the caller (internal/claim) treats this as
// best-effort and only logs the error.
func (s *Sink) SetAssigned(ctx context.Context, routeID, driverID string) error {
	rec := Record{RouteID: routeID, DriverID: driverID, AssignedAt: s.now()}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("export: marshal record: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%s.json", rec.AssignedAt.Format("2006-01-02"), routeID)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := bytes.NewReader(body).WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("export: write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("export: close object %s: %w", key, err)
	}
	return nil
}
