package main

import (
	"fmt"
	"os"

	ordering "github.com/drand/ordering/internal/ordering-cli"
)

func main() {
	app := ordering.CLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ordering: error running app: %s\n", err)
		os.Exit(1)
	}
}
