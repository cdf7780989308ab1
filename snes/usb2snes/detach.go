//go:build detach

package usb2snes

// Close returns without waiting for the worker so a slow socket teardown cannot delay exit.
const detachWorker = true
