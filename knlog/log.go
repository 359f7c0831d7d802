// Package knlog centralizes logging for this module behind klog's
// glog-compatible severity API, standing in for the teacher's vendored
// 3rdparty/glog (see transport/collect.go, reb/resilver.go for the call
// shapes this mirrors: Infof/Warningf/Errorf/Infoln).
package knlog

import "k8s.io/klog/v2"

func Infof(format string, args ...interface{})    { klog.Infof(format, args...) }
func Infoln(args ...interface{})                  { klog.Infoln(args...) }
func Warningf(format string, args ...interface{}) { klog.Warningf(format, args...) }
func Errorf(format string, args ...interface{})   { klog.Errorf(format, args...) }

// Flush should be called before process exit so buffered log lines reach
// their sink; klog buffers by default.
func Flush() { klog.Flush() }
