package main

import "github.com/boddenberg/tradedesk-bfa-go/cmd/bfa/cmd"

func main() {
	cmd.Execute()
}
