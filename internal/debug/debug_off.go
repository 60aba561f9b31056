//go:build !debug

/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func _debugFunc(func())                          {}
func _debugAssert(bool, ...interface{})          {}
func _debugAssertf(bool, string, ...interface{}) {}
func _debugAssertNoErr(error)                    {}
