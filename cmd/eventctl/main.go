package main

import (
	"os"

	"github.com/austindbirch/event_relay/cmd/eventctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
