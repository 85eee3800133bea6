// Package chain describes a logically contiguous buffer as an ordered chain
// of page-bounded physical memory descriptors (a scatter-gather list) and
// moves bytes between chains whose chunk boundaries do not line up.
//
// Descriptors live in a [Table] and are linked by index rather than by
// pointer. A [Chain] is the single owner of the descriptors it links; moving
// descriptors from one chain to another (see [Splice]) empties the donor, so
// a descriptor can never be released through two chains.
//
// Two operations read a source chain and must not be confused:
//   - [Copy] moves bytes from the source's memory into the memory already
//     described by a destination chain.
//   - [Table.Alias] moves no bytes at all. It builds a new chain whose
//     descriptors point at the source's memory.
package chain
