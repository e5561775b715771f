package main

import "mnemo/internal/cli"

func main() {
	cli.Execute()
}
