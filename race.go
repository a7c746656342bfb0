// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package reclaim

// RaceEnabled is true when the race detector is active.
// Used by tests to skip stress tests whose correctness depends on
// acquire/release orderings the race detector cannot observe through
// atomix's explicit-ordering atomics.
const RaceEnabled = true
