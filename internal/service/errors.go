package service

import "errors"

// ErrStartupFailed indicates the inference server never became ready
// within the probing window. Fatal to the run unless raised from the
// retry controller's restart path, where it consumes an attempt instead.
var ErrStartupFailed = errors.New("service startup failed")

// ErrBinaryNotFound indicates the configured server binary does not
// exist. The configuration is skipped, the run continues.
var ErrBinaryNotFound = errors.New("service binary not found")
