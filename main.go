package main

import "github.com/kzbirding/ScrubJay-sub000/cmd"

func main() {
	cmd.Execute()
}
