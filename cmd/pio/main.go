// Command pio is the per-unit operator CLI: it runs Background Jobs in
// the foreground (`pio run ...`), lists and kills them (`pio ps`, `pio
// kill`), logs to the bus, and serves this unit's HTTP API (`pio
// serve`). It is also the binary the unit HTTP API forks to launch a
// job on the leader's behalf.
package main

import "github.com/pioreactor/pio/internal/cli/pio"

var version = "dev"

func main() {
	pio.Execute(version)
}
