package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	marketplaceABIJSON = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"seller","type":"address"},
    {"indexed":true,"internalType":"address","name":"nft","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"price","type":"uint256"}],
   "name":"ListingCreated","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"buyer","type":"address"},
    {"indexed":true,"internalType":"address","name":"nft","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"tokenId","type":"uint256"}],
   "name":"ListingSold","type":"event"}
]`

	erc721ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}]`
)

var (
	marketplaceABI abi.ABI
	erc721ABI      abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABIJSON))
	if err != nil {
		panic("failed to parse marketplace ABI: " + err.Error())
	}
	marketplaceABI = parsed

	parsed, err = abi.JSON(strings.NewReader(erc721ABIJSON))
	if err != nil {
		panic("failed to parse ERC-721 ABI: " + err.Error())
	}
	erc721ABI = parsed
}
