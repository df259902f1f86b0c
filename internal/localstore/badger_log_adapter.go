package localstore

import "github.com/sirupsen/logrus"

// badgerLogAdapter routes BadgerDB's internal logging through the caller's
// logrus.Logger instead of badger's default stderr logger, matching how the
// rest of this module reports diagnostics.
type badgerLogAdapter struct {
	logger *logrus.Logger
}

func newBadgerLogAdapter(logger *logrus.Logger) *badgerLogAdapter {
	return &badgerLogAdapter{logger: logger}
}

func (b *badgerLogAdapter) Errorf(format string, args ...interface{}) {
	b.logger.Errorf(format, args...)
}

func (b *badgerLogAdapter) Warningf(format string, args ...interface{}) {
	b.logger.Warnf(format, args...)
}

func (b *badgerLogAdapter) Infof(format string, args ...interface{}) {
	b.logger.Debugf(format, args...)
}

func (b *badgerLogAdapter) Debugf(format string, args ...interface{}) {
	b.logger.Debugf(format, args...)
}
