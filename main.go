package main

import "github.com/kozaktomas/people-tracker/cmd"

func main() {
	cmd.Execute()
}
