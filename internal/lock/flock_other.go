//go:build !unix

package lock

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("advisory file locks are not supported on this platform")

func tryFlock(*os.File) error { return errUnsupported }

func unflock(*os.File) error { return nil }
