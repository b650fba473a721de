package models

import (
	"fmt"
	"time"
)

// RootField enumerates the root-level fields of a session document that a remote
// change may overwrite. The participant list is not a root field: it has its own
// child-level channel. The session code is not one either, because it never changes.
type RootField int

const (
	FieldDate RootField = iota
	FieldStartTime
	FieldEndTime
	FieldStarted
	FieldCompleted
	FieldDismissed
	FieldLive
	FieldNumberOfHoles
	FieldCourseID
	FieldHostID
	FieldLastUpdated
	FieldUpdatedBy

	numRootFields
)

type rootFieldSpec struct {
	name  string
	apply func(s *Session, v any) error
}

// rootFieldTable maps every RootField to its document key and setter.
// The array is sized by numRootFields so a new constant without an entry leaves a
// zero entry behind, which TestRootFieldTableIsTotal catches.
var rootFieldTable = [numRootFields]rootFieldSpec{
	FieldDate:      {"date", timeSetter(func(s *Session) *time.Time { return &s.Date })},
	FieldStartTime: {"startTime", timeSetter(func(s *Session) *time.Time { return &s.StartTime })},
	FieldEndTime:   {"endTime", timeSetter(func(s *Session) *time.Time { return &s.EndTime })},
	FieldStarted:   {"started", boolSetter(func(s *Session) *bool { return &s.Started })},
	FieldCompleted: {"completed", boolSetter(func(s *Session) *bool { return &s.Completed })},
	FieldDismissed: {"dismissed", boolSetter(func(s *Session) *bool { return &s.Dismissed })},
	FieldLive:      {"live", boolSetter(func(s *Session) *bool { return &s.Live })},
	FieldNumberOfHoles: {"numberOfHoles", func(s *Session, v any) error {
		n, err := AsInt(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("negative hole count %d", n)
		}
		s.NumberOfHoles = n
		return nil
	}},
	FieldCourseID: {"courseId", stringSetter(func(s *Session) *string { return &s.CourseID })},
	FieldHostID:   {"hostId", stringSetter(func(s *Session) *string { return &s.HostID })},
	FieldLastUpdated: {"lastUpdated", func(s *Session, v any) error {
		t, err := AsTime(v)
		if err != nil {
			return err
		}
		// lastUpdated only ever moves forward.
		if t.After(s.LastUpdated) {
			s.LastUpdated = t
		}
		return nil
	}},
	FieldUpdatedBy: {"updatedBy", stringSetter(func(s *Session) *string { return &s.UpdatedBy })},
}

var rootFieldsByName = func() map[string]RootField {
	m := make(map[string]RootField, numRootFields)
	for f := RootField(0); f < numRootFields; f++ {
		m[rootFieldTable[f].name] = f
	}
	return m
}()

// RootFields returns every root field in declaration order.
func RootFields() []RootField {
	out := make([]RootField, 0, numRootFields)
	for f := RootField(0); f < numRootFields; f++ {
		out = append(out, f)
	}
	return out
}

// ParseRootField maps a document key to its RootField.
func ParseRootField(name string) (RootField, bool) {
	f, ok := rootFieldsByName[name]
	return f, ok
}

// Name is the document key of the field.
func (f RootField) Name() string {
	if f < 0 || f >= numRootFields {
		return fmt.Sprintf("RootField(%d)", int(f))
	}
	return rootFieldTable[f].name
}

func (f RootField) String() string {
	return f.Name()
}

// Apply coerces v and stores it in the session field f stands for.
// A nil v resets the field to its zero value.
func (f RootField) Apply(s *Session, v any) error {
	if f < 0 || f >= numRootFields {
		return fmt.Errorf("unknown root field %d", int(f))
	}
	if err := rootFieldTable[f].apply(s, v); err != nil {
		return fmt.Errorf("%s: %w", f.Name(), err)
	}
	return nil
}

func timeSetter(field func(s *Session) *time.Time) func(*Session, any) error {
	return func(s *Session, v any) error {
		t, err := AsTime(v)
		if err != nil {
			return err
		}
		*field(s) = t
		return nil
	}
}

func boolSetter(field func(s *Session) *bool) func(*Session, any) error {
	return func(s *Session, v any) error {
		b, err := AsBool(v)
		if err != nil {
			return err
		}
		*field(s) = b
		return nil
	}
}

func stringSetter(field func(s *Session) *string) func(*Session, any) error {
	return func(s *Session, v any) error {
		str, err := AsString(v)
		if err != nil {
			return err
		}
		*field(s) = str
		return nil
	}
}
