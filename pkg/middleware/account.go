package middleware

import (
	"merchant-voucher/pkg/errutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// AccountHeader carries the account the caller acts for. Authentication of
// the header happens in front of this service.
const AccountHeader = "X-Account-Address"

const AccountContextKey = "middleware.account"

// Account requires a well-formed account address on the request.
func Account() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(AccountHeader)
		if !common.IsHexAddress(raw) {
			_ = c.Error(errutil.Unauthorized("missing or invalid "+AccountHeader, nil))
			c.Abort()
			return
		}
		c.Set(AccountContextKey, common.HexToAddress(raw))
		c.Next()
	}
}

// GetAccount returns the address set by Account.
func GetAccount(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(AccountContextKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
