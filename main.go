package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(130)
		}

		if errors.Is(err, errRunsFailed) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
