// Command periscope launches and supervises browsers over the DevTools protocol.
package main

import (
	"fmt"
	"os"

	"github.com/jmgilman/periscope/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
