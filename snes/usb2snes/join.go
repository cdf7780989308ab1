//go:build !detach

package usb2snes

// Close waits for the worker to exit.
const detachWorker = false
