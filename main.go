package main

import "council/cmd"

func main() {
	cmd.Execute()
}
