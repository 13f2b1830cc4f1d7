package main

import (
	"os"

	"github.com/scanlog/server/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
