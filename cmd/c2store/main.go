// Command c2store is the operator command line for the entity store.
package main

import "github.com/mesh-intelligence/c2store/internal/cli"

func main() {
	cli.Execute()
}
