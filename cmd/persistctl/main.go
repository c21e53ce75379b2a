// Command persistctl loads, saves and erases objects through the storages
// declared in a persistence config file.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
