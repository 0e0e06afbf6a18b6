// kerndbg resolves Windows kernel symbol addresses and structure offsets
// from Microsoft PDB files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jtang613/kerndbg/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
