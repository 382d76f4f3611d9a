package main

import "github.com/nvr-ai/go-cheatdetect/cmd"

func main() {
	cmd.Execute()
}
