package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/agentsim/agentsim/cmd"
	agenterrors "github.com/agentsim/agentsim/internal/errors"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		os.Exit(0)
	}

	// A graceful interruption is reported as a warning by the command itself;
	// it only changes the exit code here.
	if !errors.Is(err, agenterrors.ErrInterrupted) {
		fmt.Fprintf(os.Stderr, "\n[ERROR] Unexpected error: %v\n", err)
	}
	os.Exit(1)
}
