package tftpd

import "github.com/sirupsen/logrus"

// Fields is re-exported from logrus so callers outside this package
// don't need to import it directly just to build a LoggingSink.
type Fields = logrus.Fields

// Logger is the narrow slice of *logrus.Entry this package needs,
// letting tests substitute a no-op implementation without pulling in
// logrus's test hooks.
type Logger interface {
	WithFields(Fields) *logrus.Entry
	Info(args ...interface{})
	Warn(args ...interface{})
	Debug(args ...interface{})
}

// NewLogger wraps a *logrus.Logger so it satisfies Logger, pre-tagged
// with the "component" field the teacher's log.Printf prefixes
// (e.g. "%s request for %s ...") conveyed informally as plain text.
func NewLogger(base *logrus.Logger, component string) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return base.WithField("component", component)
}
