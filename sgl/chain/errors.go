package chain

import "errors"

var (
	// ErrInvalidArgument is returned for a nil buffer, a non-positive length
	// or count, or a negative offset.
	ErrInvalidArgument = errors.New("chain: invalid argument")

	// ErrOutOfRange is returned when an offset lies at or beyond the end of
	// a chain.
	ErrOutOfRange = errors.New("chain: offset out of range")

	// ErrNoFreeDescriptors is returned when the table cannot hold the
	// descriptors an operation needs. Nothing is allocated in that case.
	ErrNoFreeDescriptors = errors.New("chain: not enough free descriptors")

	// ErrMisaligned is returned when splicing would put a descriptor that
	// does not start a page anywhere but the head of a chain.
	ErrMisaligned = errors.New("chain: descriptor is not page aligned")

	// ErrForeignTable is returned when two chains from different tables are
	// combined.
	ErrForeignTable = errors.New("chain: chains belong to different tables")

	// ErrCorrupt is returned by Validate when a chain breaks one of its
	// invariants.
	ErrCorrupt = errors.New("chain: corrupt descriptor chain")
)
