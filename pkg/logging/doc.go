// Package logging provides lymbo's subsystem-tagged, level-filtered
// structured logger over log/slog.
//
// Six severity levels (notset, debug, info, warning, error, critical)
// map onto slog's four. Init wires the process-wide logger to an output
// writer and, optionally, to an additional log file at the same time —
// the same file-plus-console pairing the original Python runner's
// FileHandler and StreamHandler provided together.
//
//	closer, err := logging.Init(logging.LevelInfo, os.Stdout, "", false)
//	defer closer.Close()
//	logging.Info("pipeline", "starting run with %d workers", workers)
//	logging.Error("broker", err, "setup failed for scope %s", scopeID)
package logging
