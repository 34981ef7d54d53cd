//go:build windows

package main

import (
	"flag"
	"log"

	"slsdispatch/services/agents/cad"
	agent "slsdispatch/services/agents/windows"
)

func main() {
	configPath := flag.String("config", cad.ConfigPath(), "path to agent configuration file")
	flag.Parse()

	if err := agent.Run(*configPath); err != nil {
		log.Fatalf("windows agent exited with error: %v", err)
	}
}
