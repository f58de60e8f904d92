package retry

import "context"

// RotateToken rotates the token on the bundle at index, given whether the
// TokenPool should be bypassed (forceNew) and the token that just failed.
type RotateToken func(ctx context.Context, index int, forceNew bool, oldToken string) error

// ReplaceBundle replaces the bundle at index with a freshly proxied one.
type ReplaceBundle func(ctx context.Context, index int, forceNewToken bool) error

// WithRotation calls fn repeatedly, reacting to the error fn returns by
// rotating the token (on RateLimitError) or replacing the bundle (on
// ProxyAuthError), up to MaxProxyRetries rotations of each kind.
// rotateToken and replaceBundle are expected to mutate the caller's bundle
// reference in place (under the pool's lock) so that fn's next invocation
// observes the rotation.
func WithRotation(ctx context.Context, index int, currentToken func() string, rotateToken RotateToken, replaceBundle ReplaceBundle, fn func() error) error {
	tokenRotations := 0
	proxyRotations := 0

	for {
		err := fn()
		if err == nil {
			return nil
		}

		if IsRateLimitShaped(err) {
			if tokenRotations >= MaxProxyRetries {
				return err
			}
			tokenRotations++
			forceNew := currentToken() == ""
			if rotErr := rotateToken(ctx, index, forceNew, currentToken()); rotErr != nil {
				return rotErr
			}
			continue
		}

		if IsProxyAuthShaped(err) {
			if proxyRotations >= MaxProxyRetries {
				return err
			}
			proxyRotations++
			if rotErr := replaceBundle(ctx, index, true); rotErr != nil {
				return rotErr
			}
			continue
		}

		return err
	}
}
