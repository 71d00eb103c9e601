package main

import "github.com/brensch/migrobot/cmd"

func main() {
	cmd.Execute()
}
