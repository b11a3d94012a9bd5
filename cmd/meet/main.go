package main

import "github.com/dkeye/MeetLink/internal/cli"

func main() {
	cli.Execute()
}
