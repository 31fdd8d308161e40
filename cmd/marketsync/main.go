package main

import "nft-market-sync/internal/cli"

func main() {
	cli.Execute()
}
