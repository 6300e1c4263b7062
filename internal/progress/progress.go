// Package progress estimates job completion for services that report no
// percentage of their own.
package progress

const (
	// Step is added on every non-terminal status tick.
	Step = 2
	// Ceiling caps the estimate until the service reports completion.
	Ceiling = 95
	// Complete is applied only when the job is seen as completed.
	Complete = 100
)

// Advance returns the estimate after one more non-terminal tick. It never
// decreases its input and never crosses Ceiling on its own.
func Advance(current int) int {
	if current < 0 {
		current = 0
	}
	if current >= Ceiling {
		return current
	}
	return min(current+Step, Ceiling)
}
