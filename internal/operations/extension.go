package operations

import (
	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/registration"
)

// removeExtension checks in MODEL and again in VERIFY, after every other
// step of the batch, that the extension's subsystems hold no resource. The
// registrations go once the batch succeeds.
func (h *Handlers) removeExtension(ctx *controller.Context, op controller.Operation) error {
	name, err := stringParam(op, ParamExtension)
	if err != nil {
		return err
	}
	if err := h.checkExtensionUnused(ctx, op, name); err != nil {
		return err
	}
	if err := ctx.AddStepFunc(controller.Verify, func(ctx *controller.Context, op controller.Operation) error {
		return h.checkExtensionUnused(ctx, op, name)
	}); err != nil {
		return err
	}
	ctx.OnCompleted(func(outcome controller.Outcome) {
		if outcome != controller.Success {
			return
		}
		if err := h.unregisterExtension(name); err != nil {
			ctx.Logger().Error("Failed to unregister extension.", "extension", name, "error", err)
			return
		}
		ctx.Logger().Info("Extension removed.", "extension", name)
	})
	return nil
}

func (h *Handlers) checkExtensionUnused(ctx *controller.Context, op controller.Operation, name string) error {
	subsystems, err := h.reg.ExtensionSubsystems(name)
	if err != nil {
		return invalid(op, "%w", err)
	}
	for _, s := range subsystems {
		_, err := ctx.ReadResource(s)
		if err == nil {
			return invalid(op, "extension %q is in use: remove %s first", name, s)
		}
		if !errors.Is(err, errors.NotFound) {
			return err
		}
	}
	return nil
}

// unregisterExtension removes the extension's registrations and forgets the
// runtime handlers of nodes that are no longer registered.
func (h *Handlers) unregisterExtension(name string) error {
	if err := h.reg.UnregisterExtension(name); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for n := range h.runtimes {
		if !h.registered(n) {
			delete(h.runtimes, n)
		}
	}
	return nil
}

func (h *Handlers) registered(n *registration.Node) bool {
	got, err := h.reg.NodeAt(n.Pattern())
	return err == nil && got == n
}
