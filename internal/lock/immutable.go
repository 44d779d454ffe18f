package lock

import "go.uber.org/zap"

// Immutable marks path immutable for the lifetime of the returned release
// function, so nothing edits a unit's input while it is being processed.
// Filesystems or platforms without the attribute, and missing privileges,
// log and degrade to a no-op. Call release on every exit path.
func Immutable(path string, logger *zap.Logger) (release func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	restore, err := setImmutable(path)
	if err != nil {
		logger.Debug("immutable attribute unavailable", zap.String("path", path), zap.Error(err))
		return func() {}
	}
	return func() {
		if err := restore(); err != nil {
			logger.Warn("clear immutable attribute", zap.String("path", path), zap.Error(err))
		}
	}
}
