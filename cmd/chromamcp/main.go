package main

import "chromamcp/internal/cli"

func main() {
	cli.Execute()
}
