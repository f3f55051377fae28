package main

import "github.com/trminhdn/signalflow/internal/cli"

func main() {
	cli.Execute()
}
