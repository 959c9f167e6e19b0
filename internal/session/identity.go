package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/prefsync/internal/metrics"
)

// Identify binds the session to an application user id. Side-effect order is
// load-bearing:
//
//  1. the identity-verification token (if any) is installed on the transport,
//  2. the deferred queue is drained in FIFO order,
//  3. a permission-status sync is triggered,
//  4. a background re-fetch refreshes the cache.
//
// Draining before the fetch means queued optimistic writes are applied first;
// the fetched baseline is then merged, not blindly overwritten, over any field
// a queued command touched (see applyBaseline).
//
// The drain runs on the caller's goroutine so queued remote writes complete
// in order before Identify returns; steps 3 and 4 are fire-and-forget.
func (s *Session) Identify(userID, token string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if token != "" {
		s.inspectIdentityToken(userID, token)
	}
	if bs, ok := s.svc.(bearerSetter); ok {
		bs.SetBearer(token)
	}

	s.drainLoop()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		s.syncPermissionNow(ctx)
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("post-identify refresh failed, cache left as-is", zap.Error(err))
		}
	}()
}

// Logout clears the identified state only. The cache and the install id
// survive; the effective user id reverts to the anonymous install id.
func (s *Session) Logout() {
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
	if bs, ok := s.svc.(bearerSetter); ok {
		bs.SetBearer("")
	}
}

// drainLoop drains until the queue stays empty, so a command enqueued while a
// drain is running is picked up rather than skipped.
func (s *Session) drainLoop() {
	for s.q.Drain() > 0 {
	}
	metrics.DeferredQueueDepth.Set(float64(s.q.Len()))
}

// inspectIdentityToken parses the token claims without signature validation
// (the server is the verifier) and surfaces obvious mistakes early.
func (s *Session) inspectIdentityToken(userID, token string) {
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.Subject != "" && claims.Subject != userID {
		s.log.Warn("identity token subject does not match user id",
			zap.String("subject", claims.Subject), zap.String("userId", userID))
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		s.log.Warn("identity token is expired", zap.Time("expiresAt", claims.ExpiresAt.Time))
	}
}
