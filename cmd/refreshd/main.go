// Command refreshd runs refresh-ahead population workers and offers operator
// commands against the shared store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
