// Package remote defines the boundary between the client engine and the
// Ganymede object/field service. Every call is assumed to block and to be
// able to fail; mutating calls return a Result describing the outcome.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// ErrReleased is returned by object and field handles used after the
// session object that issued them was discarded.
var ErrReleased = errors.New("handle released")

// Session is one logged-in client session on the server.
type Session interface {
	Bases(ctx context.Context) ([]schema.Base, error)
	FieldTemplates(ctx context.Context, base uint16) ([]schema.FieldTemplate, error)

	OpenTransaction(ctx context.Context, description string) (*Result, error)
	CommitTransaction(ctx context.Context) (*Result, error)
	AbortTransaction(ctx context.Context) (*Result, error)

	// CreateObject and CloneObject return the new object in Result.Object.
	CreateObject(ctx context.Context, base uint16) (*Result, error)
	CloneObject(ctx context.Context, invid schema.Invid) (*Result, error)
	// EditObject and ViewObject return the object handle in Result.Object.
	EditObject(ctx context.Context, invid schema.Invid) (*Result, error)
	ViewObject(ctx context.Context, invid schema.Invid) (*Result, error)
	DeleteObject(ctx context.Context, invid schema.Invid) (*Result, error)
	InactivateObject(ctx context.Context, invid schema.Invid) (*Result, error)
	ReactivateObject(ctx context.Context, invid schema.Invid) (*Result, error)

	// QueryByType lists the objects of a base, optionally only those the
	// session may edit.
	QueryByType(ctx context.Context, base uint16, editableOnly bool) ([]schema.ObjectHandle, error)
	ObjectLabel(ctx context.Context, invid schema.Invid) (string, error)
	ObjectHistory(ctx context.Context, invid schema.Invid) (string, error)
}

// Object is a handle on one server-side object, borrowed from the session
// transaction that issued it.
type Object interface {
	Invid() schema.Invid
	Editable() bool
	Label(ctx context.Context) (string, error)
	// FieldInfos returns a snapshot of every field. A nil slice means the
	// server returned no field information at all.
	FieldInfos(ctx context.Context) ([]schema.FieldInfo, error)
	Field(ctx context.Context, id uint16) (Field, error)
}

// Field is a live handle on one field of one object.
type Field interface {
	ID() uint16
	Info(ctx context.Context) (schema.FieldInfo, error)
	Value(ctx context.Context) (any, error)
	SetValue(ctx context.Context, v any) (*Result, error)
	SetElement(ctx context.Context, index int, v any) (*Result, error)

	// ChoicesKey returns the key under which the choice list may be shared
	// with other fields, or "" if the list is specific to this field.
	ChoicesKey(ctx context.Context) (string, error)
	Choices(ctx context.Context) ([]Choice, error)

	AddElement(ctx context.Context, v any) (*Result, error)
	AddElements(ctx context.Context, vs []any) (*Result, error)
	DeleteElement(ctx context.Context, v any) (*Result, error)
	DeleteElements(ctx context.Context, vs []any) (*Result, error)
	// CreateEmbedded creates a new embedded object and appends it to this
	// edit-in-place field, returning it in Result.Invid and Result.Object.
	CreateEmbedded(ctx context.Context) (*Result, error)
	DateLimits(ctx context.Context) (DateLimits, error)
}

// MatrixField is implemented by permission-matrix and field-option fields.
// Matrix editors talk to it directly.
type MatrixField interface {
	Field
	Matrix(ctx context.Context) (map[string]string, error)
	SetMatrixEntry(ctx context.Context, key, value string) (*Result, error)
}

// Choice is one entry of a pick list.
type Choice struct {
	Label string `json:"label"`
	Value any    `json:"value"`
	// Editable is false for targets that may be linked to but not edited.
	Editable bool `json:"editable"`
}

// DateLimits bounds the values of a date field. Nil means unbounded.
type DateLimits struct {
	Min *time.Time `json:"min,omitempty"`
	Max *time.Time `json:"max,omitempty"`
}

// Contains reports whether t lies within the limits.
func (l DateLimits) Contains(t time.Time) bool {
	if l.Min != nil && t.Before(*l.Min) {
		return false
	}
	if l.Max != nil && t.After(*l.Max) {
		return false
	}
	return true
}

// CallError reports a transport or session failure of a remote call.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Wrap converts err into a *CallError for op, leaving nil and existing
// CallErrors untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Op: op, Err: err}
}
