// Command precheck runs the local, model-free pre-check stage against text
// and validates policy files. It never calls a model.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
