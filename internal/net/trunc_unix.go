//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package net

import "golang.org/x/sys/unix"

// msgTrunc is the flag the kernel raises when a datagram did not fit the
// receive buffer.
const msgTrunc = unix.MSG_TRUNC
