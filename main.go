// The main package for the screenshotter executable.
package main

import (
	"github.com/JakeFAU/sitemap-screenshotter/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
