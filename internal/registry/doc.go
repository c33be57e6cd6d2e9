// Package registry provides the central "glue" for the module system.
//
// The Host is the handle a compiled-in module receives at registration time.
// It exposes the application's extension points: lifecycle callbacks around
// unit loading and shutdown, the path registry for adding load roots, and
// the boot pipeline for reordering steps. Modules never see the application
// struct itself, which keeps the dependency arrow pointing one way.
package registry
