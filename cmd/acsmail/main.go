// Command acsmail sends email through a Communication Services resource and
// tracks the resulting send operations.
package main

import "github.com/nimburion/acsmail/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand())
}
