// Command heartbeat dispatches queued work to autonomous coding agents and
// drives features through the specflow phase pipeline.
package main

import "heartbeat/internal/cli"

func main() {
	cli.Execute()
}
