package main

import (
	"os"

	"github.com/supersockets/supersockets-go/cmd/supersock/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
