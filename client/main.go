// Command client starts the dashboard web server directly, for deployments
// that only ever serve.
package main

import (
	"log"
	"os"

	"github.com/phillip-england/ccmetrics/internal/cli"
)

func main() {
	if err := cli.Execute(append([]string{"serve"}, os.Args[1:]...)); err != nil {
		log.Fatal(err)
	}
}
