// Command profilesync keeps a local user profile in sync with a remote document store.
package main

import (
	"fmt"
	"os"

	"github.com/and161185/profilesync/internal/cli"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	root := cli.NewRootCommand(cli.BuildInfo{Version: version, Date: buildDate}, nil)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "profilesync:", err)
		os.Exit(1)
	}
}
