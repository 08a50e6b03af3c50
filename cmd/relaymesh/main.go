package main

import (
	"os"

	"relaymesh/cmd/relaymesh/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
