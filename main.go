// ./main.go
package main

import (
	"github.com/xkilldash9x/pageprobe/cmd"
)

// main is the entry point for the pageprobe CLI.
func main() {
	cmd.Execute()
}
