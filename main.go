package main

import "github.com/Norgate-AV/xcwatch/cmd"

func main() {
	cmd.Execute()
}
