// Command rebalance solves a request bundle from the command line.
//
//	rebalance solve --input bundle.json
//	rebalance solve --input bundle.msgpack --strategy core --lots lots.csv --prices prices.csv
//	rebalance validate --input bundle.json
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
