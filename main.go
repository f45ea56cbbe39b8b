package main

import (
	"os"

	"github.com/ghyeongl/filesearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
