// Package logx configures notifyd's structured logging.
//
// logx.Logger is a thin wrapper over zerolog:
//   - console output is short and human readable
//   - file output is JSON, one event per line
//   - the journald sink forwards events with their fields as journal vars
//
// Sinks can be swapped at runtime with Service.Apply; loggers derived from the
// Service follow the swap.
package logx
