package main

import (
	"os"

	"github.com/austindbirch/zekt_action/cmd/zektctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
