// Command bcctl is a minimal smoke-test client: point it at a cameras.yaml
// file and it opens a session against one named camera, runs a handful of
// one-shot commands, and logs out.
package main

import (
	"fmt"
	"os"

	"github.com/camlink/bc-go/internal/bclog"
)

var log = bclog.New("bcctl", bclog.Info, os.Stderr)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
