package collaboration

import (
	"errors"
	"fmt"

	"collabflow/auth"
)

var (
	ErrCollaborationNotFound  = errors.New("collaboration: not found")
	ErrInvalidAmount          = errors.New("collaboration: invalid amount")
	ErrInvalidTransition      = errors.New("collaboration: invalid transition")
	ErrContractNotFullySigned = errors.New("collaboration: contract not fully signed")
	ErrConcurrentModification = errors.New("collaboration: concurrent modification")
	ErrActionNotPermitted     = errors.New("collaboration: action not permitted for role")
	ErrInvalidDetails         = errors.New("collaboration: invalid action details")
	ErrInvalidInput           = errors.New("collaboration: invalid input")
	ErrUnknownStatus          = errors.New("collaboration: unknown status")
	ErrUnknownAction          = errors.New("collaboration: unknown action")
	ErrHistoryCorrupt         = errors.New("collaboration: history chain broken")
)

// TransitionError reports a (status, action) pair with no table row.
type TransitionError struct {
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("collaboration: invalid transition: %s is not allowed from %s", e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PermissionError reports a legal move the caller's role may not make.
type PermissionError struct {
	Role   auth.Role
	Action Action
	From   Status
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("collaboration: role %q may not %s from %s", e.Role, e.Action, e.From)
}

func (e *PermissionError) Is(target error) bool { return target == ErrActionNotPermitted }
