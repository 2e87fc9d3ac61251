package testutil

import "testing"

// Given and Then name subtests after the scenario they set up and the
// outcome they assert.
func Given(t *testing.T, scenario string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("given "+scenario, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("then "+outcome, fn)
}
