// The main package for the sitescraper executable.
package main

import (
	"github.com/JakeFAU/site-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
