package mission

import (
	"errors"
	"fmt"

	"github.com/kilianp07/wastedispatch/core/model"
)

var (
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("mission: invalid transition")
	// ErrNotFound is returned for unknown mission ids.
	ErrNotFound = errors.New("mission: not found")
	// ErrConflict is returned by Store.Commit when the stored status no
	// longer matches the expected one.
	ErrConflict = errors.New("mission: concurrent update")
	// ErrValidation is returned for malformed mission requests.
	ErrValidation = errors.New("mission: validation failed")
	// ErrRateLimited is returned when a caller exceeds its request budget.
	ErrRateLimited = errors.New("mission: rate limited")
	// ErrNoFleet is returned by collector operations when no fleet is wired.
	ErrNoFleet = errors.New("mission: no collector fleet")
)

// InvalidTransitionError describes a rejected transition. Reason is set when
// the status would allow the transition but a guard (actor, collector id)
// did not.
type InvalidTransitionError struct {
	MissionID string
	Current   model.Status
	Attempted model.Status
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("mission %s: cannot move from %s to %s", e.MissionID, e.Current, e.Attempted)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// CurrentStatus returns the status the mission was in when the transition
// was rejected.
func (e *InvalidTransitionError) CurrentStatus() model.Status { return e.Current }

// Is makes errors.Is(err, ErrInvalidTransition) succeed.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
