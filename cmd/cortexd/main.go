// cortexd is the command-line front-end over the orchestration-and-memory
// engine: it boots the daemon (serve), runs one-shot queries against the
// Lead Agent, and gives operators direct access to the memory store's
// ingestion and consistency operations.
package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
