//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package net

// msgTrunc is not reported on this platform; truncated datagrams fail to
// decode instead.
const msgTrunc = 0
