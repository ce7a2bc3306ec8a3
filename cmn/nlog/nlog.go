// Package nlog is this module's logger: severity-leveled, with
// caller file:line prefixing and size-triggered rotation, adapted
// from the teacher's cmn/nlog down to what a node-local runtime
// needs (no double-buffer pool: log volume here is connection
// lifecycle events and per-request errors, not a data-path hot loop).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gridswarm/corenode/cmn/atomic"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

// MaxSize is the byte threshold past which the active log file is
// rotated (ignored when logging to stderr only).
var MaxSize int64 = 4 * 1024 * 1024

var (
	toStderr     bool
	alsoToStderr bool
	logDir       string
	title        string

	mu      sync.Mutex
	out     io.Writer = os.Stderr
	written atomic.Int64
)

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", true, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
	flset.StringVar(&logDir, "log_dir", "", "directory for log files; empty disables file logging")
}

func SetTitle(s string) { title = s }

// SetOutput overrides the destination writer directly; used by tests
// that want to capture log output without touching flags/files.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }

func log(sev severity, depth int, format string, args ...any) {
	line := render(sev, depth+1, format, args...)

	mu.Lock()
	defer mu.Unlock()

	if alsoToStderr || toStderr || sev >= sevErr {
		os.Stderr.WriteString(line)
	}
	if toStderr {
		return
	}
	n, _ := out.Write([]byte(line))
	if written.Add(int64(n)) >= MaxSize {
		maybeRotate()
	}
}

func render(sev severity, depth int, format string, args ...any) string {
	const chars = "IWE"
	var b strings.Builder
	b.WriteByte(chars[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 2); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	return b.String()
}

// under mu
func maybeRotate() {
	if logDir == "" {
		return
	}
	name := filepath.Join(logDir, fmt.Sprintf("%s.%d.log", title, time.Now().UnixNano()))
	f, err := os.Create(name)
	if err != nil {
		return
	}
	if closer, ok := out.(io.Closer); ok && out != io.Writer(os.Stderr) {
		closer.Close()
	}
	out = f
	written.Store(0)
}

func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if f, ok := out.(*os.File); ok {
		f.Sync()
	}
}
