package main

import (
	"os"

	"github.com/solatis/matchkeeper/cmd/matchkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
