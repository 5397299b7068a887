// Package logger configures commonlog for the obfux tools and hands out the
// named loggers each package logs through.
package logger

import (
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Root is the prefix of every logger name.
const Root = "obfux"

// Get returns the logger named obfux.<name>.
func Get(name string) commonlog.Logger {
	if name == "" {
		return commonlog.GetLogger(Root)
	}
	return commonlog.GetLogger(Root + "." + name)
}

// Configure sets the global verbosity and, when path is non-empty, sends log
// output to that file instead of stderr. Verbosity 0 logs errors and
// warnings only, 1 adds notices and info, 2 and up include debug.
func Configure(verbosity int, path string) {
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}

// TrackTime logs at debug level how long the operation named name has been
// running. Call it deferred: defer logger.TrackTime(log, time.Now(), "parse").
func TrackTime(log commonlog.Logger, start time.Time, name string) {
	log.Debugf("%s took %s", name, time.Since(start))
}
