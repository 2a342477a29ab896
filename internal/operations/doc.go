// Package operations provides the generic operation handlers every resource
// type shares: add, remove, write-attribute, undefine-attribute, the read-*
// family, composite and remove-extension.
//
// The handlers are driven by the registration of the addressed resource. Add
// validates its parameters against the attribute definitions, creates the
// resource, registers the capabilities the resource provides and requires the
// capabilities its reference attributes name. All of that happens in the
// MODEL stage; runtime effects are delegated to a RuntimeHandler in the
// RUNTIME stage, with the inverse registered as compensation.
//
// Typical wiring at extension initialization:
//
//	ops := operations.New(reg)
//	if err := ops.RegisterGlobals(); err != nil { ... }
//	_, err := ops.RegisterSubsystem(ectx, def, runtime)
package operations
