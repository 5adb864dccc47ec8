// Package logx is sentinel's logging front end over zerolog.
//
// Console lines carry a short timestamp and a file:line caller; file output
// is JSON. A Service can be reconfigured while running and reports every
// written level to registered hooks, which is how warnings and errors are
// counted in metrics.
package logx
