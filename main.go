package main

import (
	"fmt"
	"os"

	"lymbo/cmd"
	"lymbo/internal/execpool"
)

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	if os.Getenv(execpool.EnvExecutorMode) != "" {
		if err := execpool.RunExecutor(os.Stdin, os.Getenv(execpool.EnvReportDir)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cmd.SetVersion(version)
	cmd.Execute()
}
