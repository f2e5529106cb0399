// Package domain holds the entities shared by the queue, progress,
// verification and purchase components.
package domain

import (
	"fmt"
	"strings"
)

// TaskType is the engagement action a queued link asks for.
type TaskType string

const (
	TaskLike   TaskType = "like"
	TaskRecast TaskType = "recast"
	// TaskSupport is purchase only: the user buys the linked token.
	TaskSupport TaskType = "support"
	// TaskComment is kept for records created before comments were retired.
	TaskComment TaskType = "comment"
)

// TaskTypes lists every accepted task type.
var TaskTypes = []TaskType{TaskLike, TaskRecast, TaskSupport, TaskComment}

// ParseTaskType validates s. Matching is case-insensitive.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
	}
	return t, nil
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskLike, TaskRecast, TaskSupport, TaskComment:
		return true
	default:
		return false
	}
}

// RequiresContent reports whether verifying t needs the target resolved to
// a content hash.
func (t TaskType) RequiresContent() bool {
	return t != TaskSupport
}

func (t TaskType) String() string {
	return string(t)
}
