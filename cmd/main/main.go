package main

import "flow-observer/src/cli"

func main() {
	cli.Execute()
}
