// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reclaim

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates an operation could not make progress immediately:
// a proxy collector node pool is at its configured cap, or all of a
// thread's hazard pairs are in use.
//
// ErrWouldBlock is a control flow signal, not a failure. DeferDelete backs
// off and retries instead of returning it; it is surfaced only by the
// non-retrying calls (TryDeferDelete, AcquirePair).
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency with
// [code.hybscloud.com/lfq].
var ErrWouldBlock = iox.ErrWouldBlock

// ErrClosed indicates the operation was attempted on a Reclaimer or Proxy
// that has already been shut down.
var ErrClosed = errors.New("reclaim: closed")

// IsWouldBlock reports whether err indicates the operation would block.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal rather than a
// failure. ErrClosed counts as semantic alongside whatever iox classifies.
func IsSemantic(err error) bool {
	return errors.Is(err, ErrClosed) || iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition
// (nil, ErrWouldBlock, or ErrClosed).
func IsNonFailure(err error) bool {
	return err == nil || errors.Is(err, ErrClosed) || iox.IsNonFailure(err)
}
