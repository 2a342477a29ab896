/*
Package address provides the structured, immutable representation of a path
into the management resource tree.

The canonical string format is a slash-separated sequence of key=value
elements, e.g. `/subsystem=web/listener=default`. The root address is `/`.

A value of `*` is a wildcard. Wildcards are legal in registration patterns
only; concrete addresses used for tree lookups must not contain them.
*/
package address
