package main

import (
	"fmt"
	"os"

	"xdao.co/archiver/cmd/archiver/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
