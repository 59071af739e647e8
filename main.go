// The main package for the scrapequeue executable.
package main

import (
	"github.com/JakeFAU/scrapequeue/cmd"
)

func main() {
	cmd.Execute()
}
