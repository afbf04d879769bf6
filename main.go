package main

import "github.com/jmehdipour/order-gateway/cmd"

func main() {
	cmd.Execute()
}
