package main

import (
	"os"

	"github.com/mariek/littlefeed/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
