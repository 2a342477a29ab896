// Package registration describes which resources, attributes, capabilities
// and operations are legal at every address pattern, and resolves an
// (address, operation name) pair to its handler.
//
// The registration tree mirrors the resource tree, but its elements may be
// wildcards: subsystem=web/listener=* registers every listener. Lookup
// prefers an exact element over a wildcard one at each level and falls back
// to the wildcard when the exact branch has no registration for the rest of
// the address. Resolved handlers are cached per concrete address; any change
// to the registry flushes the cache.
//
// Operations registered with Inherited on an ancestor, the root's global
// operations in particular, apply to every descendant that does not register
// its own operation of the same name.
package registration
