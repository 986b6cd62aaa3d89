// rootguard refuses dangerous operations when the calling process holds
// root-equivalent privileges.
package main

import "github.com/ppiankov/rootguard/internal/cli"

func main() {
	cli.Execute()
}
