// Package testutil provides shared test fixtures: a jsondiff-based JSON
// comparison helper and a cupaloy snapshot helper.
package testutil

import (
	"testing"

	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"
)

// diffOptions is jsondiff's DefaultConsoleOptions, unchanged; no tolerant
// number comparison is configured.
var diffOptions = func() jsondiff.Options {
	o := jsondiff.DefaultConsoleOptions()
	return o
}()

// RequireJSONEqual fails t unless actual and expected are a full or superset
// JSON match, printing jsondiff's annotated diff on mismatch.
func RequireJSONEqual(t *testing.T, expected, actual []byte) {
	t.Helper()
	mode, diff := jsondiff.Compare(actual, expected, &diffOptions)
	switch mode {
	case jsondiff.FullMatch, jsondiff.SupersetMatch:
		return
	default:
		require.Failf(t, "json mismatch", "%s", diff)
	}
}
