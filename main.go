package main

import "friendsync/cmd"

func main() {
	cmd.Run()
}
