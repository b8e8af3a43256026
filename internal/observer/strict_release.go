//go:build !debug

package observer

const strictDefault = false
