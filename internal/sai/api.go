package sai

import (
	"context"
	"errors"
	"fmt"
)

// Status is the result code returned by every Control API call.
type Status int32

const (
	StatusSuccess           Status = 0
	StatusFailure           Status = -1
	StatusNotSupported      Status = -2
	StatusNoMemory          Status = -3
	StatusInvalidParameter  Status = -5
	StatusItemAlreadyExists Status = -6
	StatusItemNotFound      Status = -7
	StatusObjectInUse       Status = -11
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusNoMemory:
		return "NO_MEMORY"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusItemAlreadyExists:
		return "ITEM_ALREADY_EXISTS"
	case StatusItemNotFound:
		return "ITEM_NOT_FOUND"
	case StatusObjectInUse:
		return "OBJECT_IN_USE"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

// Op names a Control API entry point. It is used in errors and metrics.
type Op string

const (
	OpCreate Op = "create"
	OpSet    Op = "set"
	OpGet    Op = "get"
	OpRemove Op = "remove"
)

// StatusError reports a non-success Status from the Control API.
type StatusError struct {
	Op     Op
	Object ObjectType
	ID     ObjectID
	Attr   AttrID
	Status Status
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("sai %s %s", e.Op, e.Object)
	if e.ID != NullObjectID {
		msg += " " + e.ID.String()
	}
	if e.Attr != AttrNone {
		msg += " " + e.Attr.String()
	}
	return msg + ": " + e.Status.String()
}

// StatusOf returns the Status carried by err: StatusSuccess for nil and
// StatusFailure for errors that did not come from the Control API.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusFailure
}

// API is the synchronous, unary Control API. Every call either succeeds or
// returns a *StatusError. Implementations need not be safe for concurrent
// use; the agent serialises all calls behind its switch lock.
type API interface {
	Create(t ObjectType, attrs []Attribute) (ObjectID, error)
	Set(id ObjectID, attr Attribute) error
	Get(id ObjectID, attr AttrID) (Value, error)
	Remove(id ObjectID) error
}

// PortDirectory resolves front-panel ports, which hardware creates on its
// own at switch bring-up, to their handles.
type PortDirectory interface {
	PortByName(name string) (ObjectID, error)
}

// LinkEventFunc receives an unsolicited oper status change for a port.
type LinkEventFunc func(port ObjectID, up bool)

// LinkEventSource is implemented by backends that report link changes.
// SubscribeLinkEvents delivers events to fn until ctx is done.
type LinkEventSource interface {
	SubscribeLinkEvents(ctx context.Context, fn LinkEventFunc) error
}
