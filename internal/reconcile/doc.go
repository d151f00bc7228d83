// Package reconcile smooths the command/echo loop between locally
// issued control commands and cloud state pushes.
//
// Two mechanisms cooperate per unit:
//
//   - Suppress-after-send: when a command is issued the predicted
//     resulting state is published immediately and a suppression
//     window opens. The cloud's echo of that command arrives seconds
//     later; an echo matching the prediction is swallowed so observers
//     never see a second transition for the same change. A window that
//     expires without an echo is cleared silently: the command already
//     counted as success on transmit.
//
//   - Debounce-on-receipt: pushes that survive suppression (genuine
//     external changes) are coalesced with a trailing debounce window,
//     so a burst of incremental updates becomes one published state
//     carrying the final values.
//
// Timers run on an injectable clock so the windows are testable
// without real sleeps.
package reconcile
