package main

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/kenichiro-kimura/thoughtlog/pkg/response"
)

// AccessTokenMiddleware guards the API with a single shared bearer token.
// Real identity management is delegated to the GitHub App behind the
// service; this only keeps strangers off the endpoint.
func (app *application) AccessTokenMiddleware() gin.HandlerFunc {
	expected := []byte(app.Config.API.AccessToken)
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			response.Unauthorized(c, "")
			c.Abort()
			return
		}
		c.Next()
	}
}
