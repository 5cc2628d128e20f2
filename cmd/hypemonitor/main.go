package main

import "github.com/m2rcus/hypemonitoring/internal/cli"

func main() {
	cli.Execute()
}
