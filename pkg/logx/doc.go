// Package logx is the structured logger shared by every wsnotifier component.
//
// It wraps zerolog and keeps:
//   - console output readable (short timestamp + short caller)
//   - file output as JSON lines
//   - an optional Telegram sink for operators (min level + rate limit)
package logx
