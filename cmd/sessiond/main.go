package main

import (
	"fmt"
	"os"

	_ "sessiond/internal/engine/echo"
	_ "sessiond/internal/engine/llama"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
