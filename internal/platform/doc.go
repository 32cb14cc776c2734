// Package platform selects the native capture bindings for the host OS.
package platform
