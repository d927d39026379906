package main

import "github.com/user/bluemesh/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
