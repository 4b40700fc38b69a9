package internal

import "fmt"

var (
	// Overridden with -ldflags at build time.
	RelayVersion         = "devel"
	GitRevision          = "devel"
	RelayVersionRevision = fmt.Sprintf("%s-%s", RelayVersion, GitRevision)
)
