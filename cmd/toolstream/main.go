package main

import "toolstream/cmd/toolstream/cmd"

func main() {
	cmd.Execute()
}
