// Package tgui builds Telegram HTML replies with escaping applied by default.
package tgui
