package plugin

// FailureTolerance is how many consecutive failures a plugin may accumulate
// in one stage run before the stage stops calling it.
const FailureTolerance = 10

// Tracker counts consecutive failures per plugin during one stage run.
type Tracker struct {
	tolerance int
	failures  map[string]int
}

// NewTracker returns a Tracker. A tolerance <= 0 means FailureTolerance.
func NewTracker(tolerance int) *Tracker {
	if tolerance <= 0 {
		tolerance = FailureTolerance
	}
	return &Tracker{tolerance: tolerance, failures: map[string]int{}}
}

// Allow reports whether plugin may be invoked again.
func (t *Tracker) Allow(plugin string) bool {
	return t.failures[plugin] <= t.tolerance
}

// Fail records a failure and returns the consecutive count.
func (t *Tracker) Fail(plugin string) int {
	t.failures[plugin]++
	return t.failures[plugin]
}

// Succeed resets the consecutive count.
func (t *Tracker) Succeed(plugin string) {
	delete(t.failures, plugin)
}

// Abandoned reports whether plugin exceeded the tolerance.
func (t *Tracker) Abandoned(plugin string) bool {
	return !t.Allow(plugin)
}
