// Command edrdash classifies network event CSVs, maps predictions to MITRE
// ATT&CK techniques and explains them, from the command line or as a web
// dashboard.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "edrdash: %v\n", err)
		os.Exit(1)
	}
}
