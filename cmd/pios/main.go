// Command pios is the cluster-wide operator CLI: it starts the leader
// process (`pios serve`) and forwards job control and experiment-log
// calls to units through the leader's HTTP API.
package main

import "github.com/pioreactor/pio/internal/cli/pios"

var version = "dev"

func main() {
	pios.Execute(version)
}
