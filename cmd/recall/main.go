package main

import "github.com/aiovoice/recall/cmd/recall/cli"

func main() {
	cli.Execute()
}
