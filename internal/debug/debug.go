// Package debug provides invariant checks that compile to no-ops unless
// built with the "debug" tag.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

// Func runs f only in debug builds. Use it to guard invariant scans that
// would otherwise cost a full in-flight-table walk on every request.
func Func(f func()) { _debugFunc(f) }

// Assert panics with the given message if cond is false. Compiles away
// entirely (including the evaluation of a, which callers should keep
// cheap) when not built with -tags debug.
func Assert(cond bool, a ...interface{}) { _debugAssert(cond, a...) }

// Assertf is Assert with a format string.
func Assertf(cond bool, f string, a ...interface{}) { _debugAssertf(cond, f, a...) }

// AssertNoErr panics if err is non-nil.
func AssertNoErr(err error) { _debugAssertNoErr(err) }
