package feed

import "errors"

var errNoRegistry = errors.New("reader registry is not configured")
