package types

// Logger is the logging collaborator every Collage component takes
// instead of calling package-level log functions directly. The shape is
// the teacher's (pkg/mcast/types.Logger): leveled Print/Printf pairs plus
// a debug toggle, backed by definition.DefaultLogger unless the
// application supplies its own.
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

	// ToggleDebug enables or disables Debug/Debugf output and returns the
	// new state.
	ToggleDebug(enabled bool) bool
}
