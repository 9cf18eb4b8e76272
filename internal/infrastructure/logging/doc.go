// Package logging configures the slog-based structured logger shared by
// the whole service.
//
// Output is JSON by default (text for local development), filtered by
// level, and stamped with the service name and version. Subsystems take
// child loggers via With so every line from a supervisor or coordinator
// carries its device id.
//
// Secrets never go through the logger: broker passwords, API tokens and
// refresh tokens are config values, not log fields.
package logging
