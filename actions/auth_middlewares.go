package actions

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"gitlab.com/paramountdax-exchange/referral_api/service/referral_tree"
)

// ActorHeader carries the id of the user or operator behind a request. It is set by the gateway.
const ActorHeader = "X-User-Id"

// Actor stores the caller id on the gin context and on the request context used by the tree engine
func (actions *Actions) Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(ActorHeader)
		if raw == "" {
			abortWithError(c, Unauthorized, "Missing "+ActorHeader+" header")
			return
		}
		actor, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || actor == 0 {
			abortWithError(c, Unauthorized, "Invalid "+ActorHeader+" header")
			return
		}
		c.Set("auth_user_id", actor)
		c.Request = c.Request.WithContext(referral_tree.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
