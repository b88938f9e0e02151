package main

import "github.com/stephnangue/vanguard/cmd"

func main() {
	cmd.Execute()
}
