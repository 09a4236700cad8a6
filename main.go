package main

import (
	"os"

	"git.sr.ht/~kvo/go-std/slices"

	"main/logger"
	"main/server"
)

const version = "sphbridge v1.0"

func main() {
	tls := true

	if len(os.Args) > 2 || len(os.Args) == 2 && os.Args[1] != "-w" {
		os.Stderr.WriteString("sphbridge: Invalid invocation. The only supported option is -w\n")
		os.Exit(1)
	}
	if slices.Has(os.Args, "-w") {
		tls = false
	}

	server.Announce(version)

	err := server.Configure()
	if err != nil {
		logger.Fatal(err)
	}

	err = server.Run(tls)
	if err != nil {
		logger.Fatal(err)
	}
}
