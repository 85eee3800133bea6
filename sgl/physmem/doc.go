// Package physmem holds the collaborators a descriptor chain needs from its
// environment: pointer/physical address translation, page arithmetic and a
// simulated memory to back the buffers being described.
//
// Nothing here knows about descriptors. The chain package only asks two
// questions of this package: "what is the physical address of this pointer"
// and "give me the bytes at this pointer".
package physmem
