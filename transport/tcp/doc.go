// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package tcp carries a transport over a stream socket. Sends are written
// as header plus payload segments in one vectored write; receives are read
// back in the order they were posted.
package tcp
