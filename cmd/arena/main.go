package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
