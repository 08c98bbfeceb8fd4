package dispatch

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Target is the seller binding parsed from a fulfillment endpoint path.
type Target struct {
	ChainID uint64
	Seller  common.Address
}

// ParseTarget extracts the chain/seller pair from an endpoint following the
// .../fulfill/{chainId}/{sellerAddress} convention. The seller must be a
// 0x-prefixed 40-hex-char address and the chain id numeric.
//
// Parsing failure is not an error: endpoints that don't follow the
// convention simply have no target, and the dispatcher falls back to the
// untrusted public path.
func ParseTarget(u *url.URL) (Target, bool) {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg != "fulfill" || i+2 >= len(segments) {
			continue
		}
		chainID, err := strconv.ParseUint(segments[i+1], 10, 64)
		if err != nil {
			continue
		}
		addr := segments[i+2]
		if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
			continue
		}
		return Target{ChainID: chainID, Seller: common.HexToAddress(addr)}, true
	}
	return Target{}, false
}
