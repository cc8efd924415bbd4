package main

import "bpm-key-analyzer/cmd"

func main() {
	cmd.Execute()
}
