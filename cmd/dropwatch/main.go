package main

import "github.com/vietddude/dropwatch/internal/cli"

func main() {
	cli.Execute()
}
