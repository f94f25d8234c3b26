package main

import (
	"fmt"

	"github.com/page-shelf/page-shelf/internal/version"
)

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
