package debrid

import "errors"

// ErrUnsupported is returned by StartBackgroundCaching implementations that
// don't support pre-caching; the orchestrator treats this as "no caching
// needed" rather than a failure.
var ErrUnsupported = errors.New("debrid: capability not supported by this provider")
