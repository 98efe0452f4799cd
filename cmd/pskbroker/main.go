package main

import (
	"os"

	"github.com/chiquitav2/psk-broker/cmd/pskbroker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
