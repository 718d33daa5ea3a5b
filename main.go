package main

import "github.com/impact-eintr/fekv/cli"

func main() {
	cli.Execute()
}
