package app

import (
	"github.com/vk/strapgo/internal/registry"
	"github.com/vk/strapgo/modules/gateway"
	"github.com/vk/strapgo/modules/templates"
)

// coreModules is the definitive list of all modules that are compiled into
// the strapgo binary.
var coreModules = []registry.Module{
	&gateway.Module{},
	&templates.Module{},
}
