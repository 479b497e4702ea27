// Package main is the entry point for the psxav application.
package main

import (
	"os"

	"github.com/m35/jpsxdec-sub004/cmd/psxav/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
