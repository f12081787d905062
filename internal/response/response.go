package response

import (
	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON body of every non-2xx API response.
type ErrorBody struct {
	Error      ErrCode           `json:"error"`
	Detail     string            `json:"detail"`
	RedirectTo string            `json:"redirect_to,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// Fail sends an error response with an error code and no field-level details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, ErrorBody{Error: code, Detail: GetMessage(code)})
}

// FailWithRedirect sends an error response telling the client where to go instead.
func FailWithRedirect(c *gin.Context, statusCode int, code ErrCode, redirectTo string) {
	c.JSON(statusCode, ErrorBody{Error: code, Detail: GetMessage(code), RedirectTo: redirectTo})
}

// FailWithFields sends an error response with field-level validation details.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, ErrorBody{Error: code, Detail: GetMessage(code), Fields: fields})
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, ErrorBody{Error: code, Detail: GetMessage(code)})
}
