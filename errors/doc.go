// Package errors provides standardized error handling patterns for vatdata components.
//
// # Overview
//
// Errors fall into three classes:
//
//   - Transient: backend timeouts, connection loss, temporary unavailability (retry is reasonable)
//   - Invalid: misuse by the caller, such as a weak-store key that is not a virtual object (report and continue)
//   - Fatal: store corruption, failed flushes, unknown kinds (halt the unit)
//
// The class decides propagation. Invalid errors go back to the immediate caller and
// the unit keeps running. Fatal errors abort the current crank and halt the unit,
// because a unit whose memory and durable store disagree cannot be trusted to continue.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers attach a class:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// Plain Wrap keeps whatever class the wrapped error already carries:
//
//	errors.Wrap(err, "Component", "Method", "action")
//
// Passing a nil cause to a classified wrapper yields an error carrying only the
// action text, which is the usual shape for validation failures:
//
//	return errors.WrapInvalid(nil, "WeakStore", "Set", "key is not a virtual object")
//
// # Classification
//
// Classify prefers an explicit ClassifiedError anywhere in the chain. Unclassified
// errors fall back to the sentinel variables and finally to message heuristics.
//
//	if errors.IsFatal(err) {
//	    manager.halt(err)
//	}
package errors
