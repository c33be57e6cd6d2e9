// Package app wires the boot kernel together. It defines the App struct,
// the single owned boot context holding the logger, configuration, path
// registry, pipeline, symbol registry, loader and hook lists, plus the
// default boot steps, decoupled from any specific entrypoint like a CLI.
// There are no package-level singletons: tests construct fresh Apps.
package app
