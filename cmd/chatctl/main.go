package main

import (
	"os"

	"bazaar/cmd/chatctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
