package retry

import "time"

// MaxProxyRetries bounds every proxy/token rotation loop in the engine.
const MaxProxyRetries = 5

// CatalogDelays is the inner HTTP retry schedule for catalog calls.
var CatalogDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// TileDelays is the retry schedule used for tile downloads when proxying is
// enabled.
var TileDelays = []time.Duration{
	1 * time.Second,
	2500 * time.Millisecond,
	4500 * time.Millisecond,
}

// ProxyRotationSleep is the fixed inter-attempt pause the session pool's
// replacement algorithms sleep between proxy batches.
const ProxyRotationSleep = 1 * time.Second

// TileDelaysFor returns the schedule to use for tile downloads: the full
// schedule under proxy mode, or a single attempt otherwise.
func TileDelaysFor(useProxy bool) []time.Duration {
	if !useProxy {
		return nil
	}
	return TileDelays
}

// TokenPoolCapacity clamps 2*n to [3, 20].
func TokenPoolCapacity(n int) int {
	size := 2 * n
	if size < 3 {
		return 3
	}
	if size > 20 {
		return 20
	}
	return size
}
