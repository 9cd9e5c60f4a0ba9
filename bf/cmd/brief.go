package main

import (
	"os"

	"github.com/MarcinKonowalczyk/brief/cli"
)

func main() {
	cli.Main(os.Args[1:])
}
