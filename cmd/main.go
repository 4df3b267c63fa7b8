package main

import (
	"os"

	"github.com/ZephireNZ/home-assistant-core/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
