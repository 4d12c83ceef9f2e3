// Command sagactl inspects saga instances and clears stuck saga locks.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
