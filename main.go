// The main package for the harvester executable.
package main

import (
	"github.com/courtdata/judgment-harvester/cmd"
)

func main() {
	cmd.Execute()
}
