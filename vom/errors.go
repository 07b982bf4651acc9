package vom

import stderrors "errors"

var (
	// ErrUnknownKind means a slot names a kind that has not been defined in
	// this incarnation, or a kind handle with no descriptor.
	ErrUnknownKind = stderrors.New("unknown kind")
	// ErrFacetMismatch means a kind was redefined with a facet layout that
	// disagrees with its persisted descriptor.
	ErrFacetMismatch = stderrors.New("facet count does not match kind descriptor")
	// ErrKindAlreadyDefined means a kind handle was defined twice in one incarnation.
	ErrKindAlreadyDefined = stderrors.New("kind already defined")
	// ErrNotIdentityKey means a weak store key has no stable identity.
	ErrNotIdentityKey = stderrors.New("key is not an identity value")
	// ErrNoSuchMethod means a representative's facet has no such method.
	ErrNoSuchMethod = stderrors.New("no such method")
	// ErrUnknownField means a state field was not declared by the kind's init.
	ErrUnknownField = stderrors.New("unknown state field")
	// ErrUnitHalted is returned by every operation after a fatal error.
	ErrUnitHalted = stderrors.New("unit halted")
	// ErrNotDeletable means Delete was called on an instance of a kind
	// defined without Deletable.
	ErrNotDeletable = stderrors.New("kind is not deletable")
	// ErrInstanceDeleted means the instance's state record has been deleted.
	ErrInstanceDeleted = stderrors.New("instance deleted")
	// ErrInstanceInUse means Delete was called on an instance with an active call.
	ErrInstanceInUse = stderrors.New("instance in use")
	// ErrKeyExists means Init found the key already present.
	ErrKeyExists = stderrors.New("key already exists")
	// ErrNestedCrank means Crank was called from inside a crank.
	ErrNestedCrank = stderrors.New("crank already running")
	// ErrForeignValue means a handle or representative belongs to another manager.
	ErrForeignValue = stderrors.New("value belongs to another unit")
)
