// Package main is the depthcloud command line tool.
package main

import (
	"os"

	"go.viam.com/depthcloud/logging"
)

func main() {
	if err := NewApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		logging.NewLogger("depthcloud").Error(err)
		os.Exit(1)
	}
}
