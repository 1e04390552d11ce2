// Command keyset serves keyset-paginated listings over HTTP and exports
// collections to object storage, topics or search indexes.
package main

import "github.com/heartline/keyset/pkg/cli"

func main() {
	cli.Execute(cli.NewCommand(cli.Options{
		Name:        "keyset",
		Description: "Keyset pagination service",
	}))
}
