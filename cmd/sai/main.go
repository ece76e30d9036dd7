// Command sai is the entry point for the Sourced AI semantic search tool.
// It provisions an OpenSearch cluster for neural search, ingests documents
// through an embedding pipeline, and answers natural-language queries from
// the CLI or an optional HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/sourcedai/sai-go/cmd/sai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
