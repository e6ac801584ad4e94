package main

import (
	"os"

	"github.com/geoshift/geoshift/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
