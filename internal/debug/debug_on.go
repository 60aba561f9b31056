//go:build debug

/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
)

func _debugFunc(f func()) { f() }

func _debugAssert(cond bool, a ...interface{}) {
	if !cond {
		panic(fmt.Sprint(append([]interface{}{"assertion failed: "}, a...)...))
	}
}

func _debugAssertf(cond bool, f string, a ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(f, a...))
	}
}

func _debugAssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}
