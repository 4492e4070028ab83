// Command chesstuner runs the configuration tuning loop for the human-like
// move selector.
package main

import (
	"os"

	"github.com/hailam/chesstuner/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
