// Command sentinelctl is the on-device operator CLI. It talks to the
// agent's loopback control API to inspect state and relay lock actions.
package main

import "github.com/nexivo/sentinel/cmd/sentinelctl/cli"

func main() {
	cli.Execute()
}
