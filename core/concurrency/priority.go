// File: core/concurrency/priority.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// Event priorities. Lower values are dispatched first and every value owns
// its own queue level.
const (
	// PriorityMagic is dispatched ahead of everything else and is still
	// accepted while a worker is halting.
	PriorityMagic   = -1
	PriorityMaximum = 0
	PriorityDefault = 1
	PriorityMinimum = 2

	numLevels = PriorityMinimum - PriorityMagic + 1
)

// ValidPriority reports whether p is one of the dispatch priorities.
func ValidPriority(p int) bool {
	return p >= PriorityMagic && p <= PriorityMinimum
}

// level maps a valid priority onto a queue level.
func level(priority int) int {
	return priority - PriorityMagic
}
