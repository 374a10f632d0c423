package main

import "github.com/openllama/openllama/cmd"

func main() {
	cmd.Execute()
}
