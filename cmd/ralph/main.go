package main

import (
	"os"

	"github.com/cipherscout/ralph/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
