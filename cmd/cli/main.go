package main

import "github.com/memtrace/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
