// Command kvblob runs the kvblob server and its client commands.
package main

import (
	"os"

	"github.com/kilupskalvis/kvblob/internal/cli"
)

func main() {
	err := cli.Execute()
	cli.FlushSentry()
	if err != nil {
		os.Exit(1)
	}
}
