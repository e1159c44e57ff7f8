package main

import "filenet/cli"

func main() {
	cli.Execute()
}
