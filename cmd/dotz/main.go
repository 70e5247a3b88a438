package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/arthur-debert/dotz/pkg/errors"
)

// Set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// printError writes the error followed by any structured details the
// coded error carries.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)

	details := errors.GetErrorDetails(err)
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, details[k])
	}
}

func main() {
	if err := Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
