package main

import (
	"github.com/mev-engine/mev-opportunity-engine/internal/cli"
)

func main() {
	cli.Execute()
}
