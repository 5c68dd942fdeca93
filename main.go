package main

import (
	"os"

	"deployx/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
