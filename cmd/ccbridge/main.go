package main

import "github.com/robinmin/ccbridge/internal/cli"

func main() {
	cli.Execute()
}
