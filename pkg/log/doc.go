/*
Package log provides structured logging for claimd using zerolog.

A single global Logger is configured once by Init from the log section of the
configuration. Components derive child loggers from it:

	logger := log.WithComponent("assigner")
	taskLog := log.WithTask(logger, task.ID, task.OTDBID, task.MomID)
	taskLog.Info().Str("status", string(task.Status)).Msg("Task scheduled")

Console output is used unless JSONOutput is set. Errors that are swallowed on
purpose (best-effort cleanup, notification delivery, one failing checker
pass) are always logged at warn or error level.
*/
package log
