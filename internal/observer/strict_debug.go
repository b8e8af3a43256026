//go:build debug

package observer

const strictDefault = true
