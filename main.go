package main

import "receipt-capture/cmd"

func main() {
	cmd.Run()
}
