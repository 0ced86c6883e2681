package main

import (
	"os"

	"github.com/msgvault/msgvault/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
