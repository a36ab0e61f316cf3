package main

import "github.com/schovi/qrun/cmd"

func main() {
	cmd.Execute()
}
