package main

import "go.pilab.hu/usersync/cmd/usersyncctl/cmd"

func main() {
	cmd.Execute()
}
