package main

import "github.com/classeye/attendance/cmd"

func main() {
	cmd.Execute()
}
