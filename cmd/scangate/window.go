//go:build !gio

package main

import (
	"errors"

	"github.com/danmuck/scangate/internal/scanner"
)

var errNoWindow = errors.New("built without window support; rebuild with -tags gio")

func attachWindow(*scanner.Service) (func(), error) {
	return nil, errNoWindow
}
