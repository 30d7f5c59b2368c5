// Package guard switches binaries into test mode when imported by a test,
// so main packages can be exercised without touching Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the variable app.InTestMode reads.
const EnvVar = "TRAVILINK_TEST_MODE"

var once sync.Once

func init() {
	Enable()
}

// Enable sets EnvVar unless the caller already chose a value.
func Enable() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
