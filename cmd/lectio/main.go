package main

import "github.com/pilab-dev/lectio/cmd/lectio/cmd"

func main() {
	cmd.Execute()
}
