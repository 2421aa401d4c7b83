// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains various helper utilitites useful for implementation of command line tools.
package tool

import (
	"fmt"
	"os"
)

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}

// SplitArgs splits a command line into tool arguments and target command line
// at the first "--" separator. The separator itself is dropped.
// If there is no separator, all arguments are tool arguments.
func SplitArgs(args []string) (toolArgs, targetArgs []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// ReplaceArg replaces every occurrence of search in argv with replace
// and returns the new argv. The input slice is not modified, each
// worker owns its own copy of the target command line.
func ReplaceArg(argv []string, search, replace string) []string {
	ret := make([]string, len(argv))
	for i, arg := range argv {
		if arg == search {
			ret[i] = replace
		} else {
			ret[i] = arg
		}
	}
	return ret
}
