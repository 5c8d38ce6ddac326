// Command contentctl maintains the content store catalog and publishes content.
package main

import (
	"os"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
