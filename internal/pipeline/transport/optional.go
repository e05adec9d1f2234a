package transport

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Nullable is a JSON patch field. Absent keys leave Set false; an explicit
// null sets it with a nil Value.
type Nullable[T any] struct {
	Value *T
	Set   bool
}

func (n Nullable[T]) IsZero() bool {
	return !n.Set
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type OptionalUUID struct {
	Value *uuid.UUID
	Set   bool
}

func (o OptionalUUID) IsZero() bool {
	return !o.Set
}

func (o *OptionalUUID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		o.Value = nil
		return nil
	}

	parsed, err := uuid.Parse(raw)
	if err != nil {
		return err
	}
	o.Value = &parsed
	return nil
}
