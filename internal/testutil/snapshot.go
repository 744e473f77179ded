package testutil

import (
	"testing"

	"github.com/bradleyjkemp/cupaloy/v2"
)

// snapshotter is configured once so every package's snapshot tests share the
// same .snapshots directory convention.
var snapshotter = cupaloy.New(cupaloy.SnapshotSubdirectory(".snapshots"))

// Snapshot compares got against the stored snapshot for t's name, failing
// with a diff on mismatch (or writing a new snapshot when the
// UPDATE_SNAPSHOTS environment variable is set).
func Snapshot(t *testing.T, got interface{}) {
	t.Helper()
	if err := snapshotter.SnapshotT(t, got); err != nil {
		t.Fatal(err)
	}
}
