package main

import "github.com/buckleypaul/cellcycle/internal/cli"

func main() {
	cli.Execute()
}
