// capsule-run is a single-invocation command sandbox: given a command,
// resource limits, and an isolation policy, it spawns the command in a
// confined execution environment, captures its output, enforces
// wall-clock and resource bounds, and returns a structured result
// describing exit status, captured streams, and measured resource
// usage.
//
// Commands:
//
//	run     - execute one ExecutionRequest and print its ExecutionResponse
//	version - print version information
//
// __init and __posix_init are hidden subcommands capsule-run re-execs
// itself into on the far side of sandbox setup; they are never invoked
// directly by a user.
package main

import (
	"fmt"
	"os"

	"capsule-run/cmd"
	"capsule-run/sandboxinit"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "__init", "__posix_init":
			os.Exit(sandboxinit.Main())
		}
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "capsule-run:", err)
		os.Exit(1)
	}
}
