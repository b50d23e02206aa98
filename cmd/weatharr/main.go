package main

import "github.com/OkinawaBoss/WeatharrStation/cmd/weatharr/commands"

func main() {
	commands.Execute()
}
