package main

import "github.com/vietddude/affiliate-indexer/internal/cli"

func main() {
	cli.Execute()
}
