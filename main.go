package main

import "github.com/deskmind-ai/deskmind/cmd"

func main() {
	cmd.Execute()
}
