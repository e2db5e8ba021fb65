package main

import "treasury-alerts/internal/cli"

func main() {
	cli.Execute()
}
