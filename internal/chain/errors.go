package chain

import (
	"errors"
	"strings"
)

var (
	// ErrRangeTooWide means the provider rejected a log query because the block
	// span exceeds its window limit. Callers subdivide and retry the halves.
	ErrRangeTooWide = errors.New("block range too wide")

	// ErrActionRejected means a submitted transfer reached a terminal failed state.
	ErrActionRejected = errors.New("transaction reverted")

	// ErrInclusionTimeout means a submitted transfer could not be confirmed in
	// time. The action is unresolved and must not be blindly retried.
	ErrInclusionTimeout = errors.New("inclusion wait timed out")
)

// Providers report window-limit rejections with wildly different messages.
// These fragments cover the common ones (geth, erigon, alchemy, infura, bsc).
var rangeTooWideFragments = []string{
	"block range is too large",
	"block range is too wide",
	"query returned more than",
	"exceed maximum block range",
	"limit exceeded",
	"range between to and from blocks is too large",
}

func isRangeTooWide(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range rangeTooWideFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
