package app

import (
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/transformers"
	"github.com/specialistvlad/mgmtcore/modules/naming"
	"github.com/specialistvlad/mgmtcore/modules/sockets"
	"github.com/specialistvlad/mgmtcore/modules/threads"
	"github.com/specialistvlad/mgmtcore/modules/web"
)

// Module is a subsystem compiled into the binary.
type Module struct {
	Name    string
	Version version.Number
	// New creates the extension; its resources get the generic handlers.
	New func(ops *operations.Handlers) registration.Extension
	// Rules returns transformer rules for older model versions, if any.
	Rules func() ([]*transformers.RuleSet, error)
}

// coreModules is the definitive list of all subsystems that are compiled
// into the mgmtcore binary.
var coreModules = []Module{
	{
		Name:    threads.Name,
		Version: threads.ModelVersion,
		New:     func(ops *operations.Handlers) registration.Extension { return threads.New(ops) },
	},
	{
		Name:    sockets.Name,
		Version: sockets.ModelVersion,
		New:     func(ops *operations.Handlers) registration.Extension { return sockets.New(ops) },
	},
	{
		Name:    web.Name,
		Version: web.ModelVersion,
		New:     func(ops *operations.Handlers) registration.Extension { return web.New(ops) },
		Rules:   web.Rules,
	},
	{
		Name:    naming.Name,
		Version: naming.ModelVersion,
		New:     func(ops *operations.Handlers) registration.Extension { return naming.New(ops) },
	},
}

// CoreModules returns the compiled-in subsystems.
func CoreModules() []Module {
	return append([]Module(nil), coreModules...)
}
