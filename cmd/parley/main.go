// Package main provides the Parley admin CLI.
package main

import "github.com/parleychat/parley/internal/cli"

func main() {
	cli.Execute()
}
