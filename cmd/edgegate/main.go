package main

import (
	"os"

	"github.com/perimetra/edgegate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
