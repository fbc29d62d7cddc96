package main

import (
	"os"

	"github.com/vmoraes/event-harvester/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
