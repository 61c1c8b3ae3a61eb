package main

import "example.com/backstage/services/irrigation/cmd"

func main() {
	cmd.Execute()
}
