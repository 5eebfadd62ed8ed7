// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package web holds the browser views and static assets, embedded into the
// binary, and the echo renderer that serves them.
//
// # Views
//
//   - index.html: chat page (model picker, transcript, composer, library dialog)
//   - login.html: static credential form; it performs no request
//   - library.html: the library trigger and dialog on their own
//
// Shared fragments live in layout.html ("head", "foot") and
// library.html ("library-dialog").
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// View names accepted by Renderer.Render.
const (
	ViewIndex   = "index.html"
	ViewLogin   = "login.html"
	ViewLibrary = "library.html"
)

// Page is the data passed to every view.
type Page struct {
	Title        string
	Version      string
	DefaultModel string
}

// Renderer implements echo.Renderer over the embedded templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

// Render executes the named view into w.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	if r.templates.Lookup(name) == nil {
		return fmt.Errorf("unknown view %q", name)
	}
	return r.templates.ExecuteTemplate(w, name, data)
}

// Static returns the embedded static assets rooted at the static directory.
func Static() fs.FS {
	return echo.MustSubFS(staticFS, "static")
}
