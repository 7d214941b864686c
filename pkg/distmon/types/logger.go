package types

// Logger is the logging facade every distmon component is constructed with.
// The shape mirrors the logging calls the protocol needs: leveled
// print/printf pairs plus a way to attach structured context (which peer,
// which mutex, which condition) to a derived logger.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output, returning the new value.
	ToggleDebug(enabled bool) bool

	// WithField returns a derived Logger that annotates every line with key=value.
	WithField(key string, value interface{}) Logger
}
