package main

import (
	"os"

	"github.com/vk/assetforge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
