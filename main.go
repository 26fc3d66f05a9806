package main

import "github.com/vadiminshakov/ledgerpool/cmd"

func main() {
	cmd.Execute()
}
