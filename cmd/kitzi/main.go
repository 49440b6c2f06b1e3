package main

import "github.com/bennybar/kitzi/cmd/kitzi/cmd"

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	cmd.Execute(Version)
}
