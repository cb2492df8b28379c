// Package log provides flobus's structured logging facade.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records flow through slog via a bridge
// handler into a Formatter and one or more Outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("transport"), log.Str("prefix", "app"))
//	l.Info("subscribed", log.Str("channel", "doc:1"))
//
// ApplyConfig builds a logger from a declarative Config (text or JSON format,
// console/file/null outputs, key redaction and sampling). RedirectStdLog
// sends the standard library logger through the same pipeline.
package log
