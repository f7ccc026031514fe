// File: cmd/browserpilot/main.go
package main

import "github.com/quayside/browserpilot/cmd"

func main() {
	cmd.Execute()
}
