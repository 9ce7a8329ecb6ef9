// Package tgui provides small Telegram HTML helpers for ParseMode="HTML"
// output: escaping, common tags, and rune-aware truncation.
package tgui
