package main

import "github.com/nextlevelbuilder/teamsclaw/cmd"

func main() {
	cmd.Execute()
}
