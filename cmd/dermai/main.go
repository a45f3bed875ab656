package main

import (
	"github.com/mchmarny/dermai/pkg/cli"
)

func main() {
	cli.Execute()
}
