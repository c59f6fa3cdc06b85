package logger

import (
	"os"

	"go.uber.org/zap"
)

// Init installs the global zap logger. JSON output for production,
// console output when TAGCACHE_ENV=dev.
func Init() (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if os.Getenv("TAGCACHE_ENV") == "dev" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = zap.L().Sync()
}
