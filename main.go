package main

import (
	"os"

	"github.com/dominikschlosser/dgc-verify/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
