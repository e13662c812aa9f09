package sampler

import (
	"fmt"
	"math"
	"time"

	"github.com/rileyhilliard/ntpwatch/internal/util"
)

// Commands issued on the appliance.
const (
	TrackingCommand = "chronyc tracking"
	SourcesCommand  = "chronyc sources -n"
)

// Fix-status output formats.
const (
	FormatJSON = "json"
	FormatNMEA = "nmea"
)

const (
	// FixToolMissingMarker is printed on stderr when gpspipe isn't installed.
	FixToolMissingMarker = "gpspipe-not-found"

	exitNotFound      = 127
	exitRemoteTimeout = 124
)

// FixStatusCommand builds the gpspipe invocation. It is wrapped in a login
// shell so a missing binary exits 127 with a marker instead of a shell error,
// and coreutils timeout bounds the stream on the remote side when available.
func FixStatusCommand(format string, timeout time.Duration, samples int) string {
	flag := "-w"
	if format == FormatNMEA {
		flag = "-r"
	}

	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}

	pipe := fmt.Sprintf("gpspipe %s -n %d", flag, samples)
	script := fmt.Sprintf(
		"if ! command -v gpspipe >/dev/null 2>&1; then echo %s >&2; exit %d; fi; "+
			"if command -v timeout >/dev/null 2>&1; then timeout %d %s; else %s; fi",
		FixToolMissingMarker, exitNotFound, secs, pipe, pipe)

	return "bash -lc " + util.ShellQuote(script)
}
