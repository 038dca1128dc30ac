// Command supernet runs and probes supernet hosts.
//
// Usage:
//
//	supernet keygen --out host.key
//	supernet listen --config supernet.yaml --echo
//	supernet connect 192.168.1.10:9050 hello world
//	supernet discover --port 9050
package main

import "github.com/vibing/supernet/cmd/supernet/cmd"

func main() {
	cmd.Execute()
}
