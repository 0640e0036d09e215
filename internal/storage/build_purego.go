//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Driver used: modernc.org/sqlite, with vec_distance_cosine registered as a
// deterministic Go scalar function.

import (
	"database/sql/driver"
	"fmt"

	"modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(vecDistanceFunc, 2,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			a, okA := args[0].([]byte)
			b, okB := args[1].([]byte)
			if args[0] == nil || args[1] == nil {
				return nil, nil
			}
			if !okA || !okB {
				return nil, fmt.Errorf("%s: arguments must be blobs", vecDistanceFunc)
			}
			return vecDistanceCosine(a, b)
		})
}
