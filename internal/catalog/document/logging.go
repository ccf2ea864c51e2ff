package document

import (
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/arencloud/snapkeeper/internal/logging"
)

// badgerLogger adapts logging.Logger to badger.Logger. Badger's info chatter is
// demoted to debug.
type badgerLogger struct {
	l logging.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func newLogger(l logging.Logger) badger.Logger {
	return &badgerLogger{l: l}
}
