// The main package for the schools executable.
package main

import (
	"github.com/JakeFAU/school-rankings-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
