// Package sgl describes logically contiguous buffers as chains of
// page-bounded physical memory descriptors.
//
// The chain package holds the core: building a chain over a buffer, tearing
// it down safely and copying between chains whose page boundaries do not
// line up. physmem provides the address translation and the memory the
// chains point into. transfer, transfer/erasure and transport/quic move the
// bytes a chain describes to another host.
//
// Mapper ties these together from a configuration file.
package sgl
