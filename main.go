package main

import "github.com/stratuscode/stratus/cmd"

func main() {
	cmd.Execute()
}
