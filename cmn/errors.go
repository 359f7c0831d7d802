// Package cmn provides common types, configuration and error kinds shared by
// every package in this module — the ambient layer, in the teacher's sense
// (see cmn/bucket.go's NewErr* constructor convention).
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error kinds from spec.md §7.
type Kind string

const (
	KindSymbolicIndex  Kind = "symbolic-index"
	KindNameCollision  Kind = "name-collision"
	KindInfeasible     Kind = "infeasible"
	KindInvalidNodeID  Kind = "invalid-node-id"
	KindNonConstArg    Kind = "non-const-arg"
	KindCliConflict    Kind = "cli-conflict"
	KindCliBadValue    Kind = "cli-bad-value"
)

// Error is the common error envelope for this module. Every NewErr*
// constructor below produces one, so callers can type-switch on Kind rather
// than on package-local error values.
type Error struct {
	Kind Kind
	msg  string
	// SrcNode / DstNode / Symbol identify the offending transmission for
	// model-level errors (name collision) per spec.md §7's propagation
	// policy ("...a diagnostic that identifies source node, destination
	// node, and the offending symbol").
	SrcNode int
	DstNode int
	Symbol  string
}

func (e *Error) Error() string {
	if e.SrcNode == 0 && e.DstNode == 0 && e.Symbol == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("%s: %s (src-node=%d dst-node=%d symbol=%q)", e.Kind, e.msg, e.SrcNode, e.DstNode, e.Symbol)
}

// Is supports errors.Is(err, &cmn.Error{Kind: cmn.KindInfeasible}) etc.,
// matching on the kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewErrSymbolicIndex(context string) error {
	return &Error{Kind: KindSymbolicIndex, msg: context}
}

func NewErrNameCollision(srcNode, dstNode int, symbol string) error {
	return &Error{Kind: KindNameCollision, msg: "translated symbol collides with an existing non-distributed name",
		SrcNode: srcNode, DstNode: dstNode, Symbol: symbol}
}

func NewErrInfeasible(dstNode int) error {
	return &Error{Kind: KindInfeasible, msg: "receiver constraint set became unsatisfiable", DstNode: dstNode}
}

func NewErrInvalidNodeID(id int) error {
	return &Error{Kind: KindInvalidNodeID, msg: fmt.Sprintf("invalid node id %d", id)}
}

func NewErrNonConstArg(fn, arg string) error {
	return &Error{Kind: KindNonConstArg, msg: fmt.Sprintf("%s: argument %q did not evaluate to a concrete integer", fn, arg)}
}

func NewErrCliConflict(a, b string) error {
	return &Error{Kind: KindCliConflict, msg: fmt.Sprintf("mutually exclusive flags %q and %q were both given", a, b)}
}

func NewErrCliBadValue(flag, value string) error {
	return &Error{Kind: KindCliBadValue, msg: fmt.Sprintf("flag %q got unrecognised value %q", flag, value)}
}

// Wrap attaches context to a lower package's error without discarding its
// Kind (errors.Is/As continue to work through pkg/errors' Cause chain).
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

// KindOf extracts the Kind of err, walking the pkg/errors Cause chain.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return "", false
		}
		err = cause.Cause()
	}
	return "", false
}
