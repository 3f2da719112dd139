package handlers

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"charitylottery/internal/identity"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

const (
	HeaderIdentity  = "X-Identity"
	HeaderSignature = "X-Signature"
	HeaderNonce     = "X-Nonce"
	HeaderTimestamp = "X-Timestamp"

	callerKey = "caller"
	nonceKey  = "nonce"
	issuedKey = "issued_at"
)

var validNonce = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// IdentityMiddleware authenticates the caller of a signed route. The caller
// signs "METHOD PATH\nNONCE\nTIMESTAMP\nBODY" with the key behind X-Identity
// and sends the hex DER signature in X-Signature, the nonce in X-Nonce and
// the Unix timestamp in X-Timestamp. Requests signed further than the
// signature window from the server clock are refused. The body is restored
// for the handler.
func (h *HTTPHandler) IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderIdentity)
		sig := c.GetHeader(HeaderSignature)
		if id == "" || sig == "" {
			unauthorized(c, "missing identity or signature")
			return
		}
		nonce := c.GetHeader(HeaderNonce)
		if !validNonce.MatchString(nonce) {
			unauthorized(c, "missing or malformed nonce")
			return
		}
		ts, err := strconv.ParseInt(c.GetHeader(HeaderTimestamp), 10, 64)
		if err != nil || ts < 0 {
			unauthorized(c, "missing or malformed timestamp")
			return
		}
		if !h.fresh(ts) {
			logger.Warningf("rejected %s %s: timestamp %d outside the signature window", c.Request.Method, c.Request.URL.Path, ts)
			unauthorized(c, "request timestamp outside the signature window")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := identity.Parse(id)
		if err == nil {
			err = identity.Verify(caller, sig, identity.Request{
				Method:    c.Request.Method,
				Path:      c.Request.URL.Path,
				Nonce:     nonce,
				Timestamp: ts,
				Body:      body,
			})
		}
		if err != nil {
			logger.Warningf("rejected %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			unauthorized(c, err.Error())
			return
		}

		c.Set(callerKey, caller)
		c.Set(nonceKey, nonce)
		c.Set(issuedKey, ts)
		c.Next()
	}
}

func (h *HTTPHandler) fresh(ts int64) bool {
	now := h.clock().Unix()
	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	return uint64(skew) <= h.signatureWindow
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// callerOf returns the identity IdentityMiddleware authenticated.
func callerOf(c *gin.Context) string {
	return c.GetString(callerKey)
}
