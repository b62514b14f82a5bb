package board

import (
	"context"
	"testing"
)

// testContext returns a context that is cancelled when the test finishes,
// like testing.T.Context on Go 1.24+.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
