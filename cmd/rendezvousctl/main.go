// Rendezvousctl -- CLI client for the rendezvous daemon's admin
// introspection surface.
package main

import "github.com/dantte-lp/rendezvous/cmd/rendezvousctl/commands"

func main() {
	commands.Execute()
}
