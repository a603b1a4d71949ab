package main

import (
	"os"

	"github.com/rpggio/escrowfund/cmd/fundctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
