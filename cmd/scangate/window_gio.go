//go:build gio

package main

import (
	"gioui.org/app"
	"github.com/danmuck/scangate/internal/scanner"
)

// attachWindow opens the scanner window and hands its events to svc.
func attachWindow(svc *scanner.Service) (func(), error) {
	w := app.NewWindow(app.Title("scangate"))
	svc.AttachGio(w.Events())
	return app.Main, nil
}
