package domain

import (
	"time"

	"github.com/google/uuid"
)

// Optional is a patch field: either Unset (leave the column alone) or
// SetTo(value). Nullable columns use a pointer T, so SetTo(nil) clears them.
type Optional[T any] struct {
	value T
	set   bool
}

func Unset[T any]() Optional[T] {
	return Optional[T]{}
}

func SetTo[T any](value T) Optional[T] {
	return Optional[T]{value: value, set: true}
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// FollowupFlag is the three-state autoFollowupsEnabled column. Rows written
// before the flag existed carry FlagUnset, which behaves as enabled.
type FollowupFlag uint8

const (
	FlagUnset FollowupFlag = iota
	FlagTrue
	FlagFalse
)

func (f FollowupFlag) Enabled() bool {
	return f != FlagFalse
}

// FlagFromPtr maps a nullable boolean column onto the flag.
func FlagFromPtr(v *bool) FollowupFlag {
	if v == nil {
		return FlagUnset
	}
	if *v {
		return FlagTrue
	}
	return FlagFalse
}

// FlagFromBool is used when a caller sets the flag explicitly.
func FlagFromBool(v bool) FollowupFlag {
	if v {
		return FlagTrue
	}
	return FlagFalse
}

// Ptr maps the flag back onto a nullable boolean column.
func (f FollowupFlag) Ptr() *bool {
	switch f {
	case FlagTrue:
		v := true
		return &v
	case FlagFalse:
		v := false
		return &v
	}
	return nil
}

// OpportunityPatch lists every field an update may touch. Only set fields
// are written.
type OpportunityPatch struct {
	StageID         Optional[*uuid.UUID]
	Title           Optional[string]
	Priority        Optional[*Priority]
	NextActionType  Optional[*string]
	NextActionDueAt Optional[*time.Time]
	Notes           Optional[*string]
	Summary         Optional[*string]
	AutoFollowups   Optional[FollowupFlag]
}

func (p OpportunityPatch) IsEmpty() bool {
	return !p.StageID.IsSet() &&
		!p.Title.IsSet() &&
		!p.Priority.IsSet() &&
		!p.NextActionType.IsSet() &&
		!p.NextActionDueAt.IsSet() &&
		!p.Notes.IsSet() &&
		!p.Summary.IsSet() &&
		!p.AutoFollowups.IsSet()
}

// Apply writes the set fields onto o.
func (p OpportunityPatch) Apply(o *Opportunity) {
	if v, ok := p.StageID.Get(); ok {
		o.StageID = v
	}
	if v, ok := p.Title.Get(); ok {
		o.Title = v
	}
	if v, ok := p.Priority.Get(); ok {
		o.Priority = v
	}
	if v, ok := p.NextActionType.Get(); ok {
		o.NextActionType = v
	}
	if v, ok := p.NextActionDueAt.Get(); ok {
		o.NextActionDueAt = v
	}
	if v, ok := p.Notes.Get(); ok {
		o.Notes = v
	}
	if v, ok := p.Summary.Get(); ok {
		o.Summary = v
	}
	if v, ok := p.AutoFollowups.Get(); ok {
		o.AutoFollowups = v
	}
}

// TerminalPatch moves an opportunity into a closed stage: outstanding
// priority and next action are cleared alongside the stage.
func TerminalPatch(stageID *uuid.UUID) OpportunityPatch {
	return OpportunityPatch{
		StageID:         SetTo(stageID),
		Priority:        SetTo[*Priority](nil),
		NextActionType:  SetTo[*string](nil),
		NextActionDueAt: SetTo[*time.Time](nil),
	}
}
