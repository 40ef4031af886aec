package main

import (
	"log"
	"os"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmsgprefix)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
