package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var captured string
	SetLogger(func(format string, v ...interface{}) {
		captured = fmt.Sprintf(format, v...)
	})
	Logf("run %s: %d points", "abc", 42)
	if captured != "run abc: 42 points" {
		t.Errorf("captured = %q", captured)
	}

	// nil installs a no-op, not a nil func
	SetLogger(nil)
	Logf("must not panic")
}
