package main

import (
	"os"

	"github.com/tempograph/tempograph/cmd/tempograph/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
