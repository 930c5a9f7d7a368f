package main

import (
	"os"

	"github.com/psantana5/sentiment-pulse/cmd/pulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
