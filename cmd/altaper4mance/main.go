// Package main is the single-binary entrypoint for the altaper4mance
// progression engine.
package main

import "github.com/valdirmariano/altaper4mance-sub000/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
