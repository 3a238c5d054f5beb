//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes a TaskSampler over HTTP, in the same
// /debug/pprof-shaped style the teacher repo used for its wasm profiler.
package server

import (
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/stealthrocket/taskprof"
)

// Snapshotter produces a profile for the currently sampled task. Snapshot is
// destructive: it calls NotifyDead on the underlying TaskSampler, which is
// why /snapshot is a POST-only route, never GET.
type Snapshotter interface {
	LiveThreadCount() int
	DeadThreadCount() int
	Pid() int
	Alive() bool
	Snapshot(now time.Time) (taskprof.ProfileBuilder, error)
}

// Handler serves an index page plus a /snapshot route against one
// Snapshotter.
type Handler struct {
	Task Snapshotter
	// WriteProfile serializes the assembled profile to w. Kept as an
	// injected function so this package never needs to know the concrete
	// profile format (see profilebuild for the default pprof adapter).
	WriteProfile func(w http.ResponseWriter, pb taskprof.ProfileBuilder) error
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/debug/taskprof", "/debug/taskprof/":
		h.index(w, r)
	case "/debug/taskprof/snapshot":
		h.snapshot(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Content-Type", "text/html; charset=utf-8")

	fmt.Fprintf(w, `<html><body>
<h1>taskprof</h1>
<p>pid: %d</p>
<p>alive: %v</p>
<p>live threads: %d</p>
<p>dead threads: %d</p>
<p><form method="POST" action="/debug/taskprof/snapshot"><button>take snapshot (ends the session)</button></form></p>
</body></html>`,
		h.Task.Pid(), html.EscapeString(fmt.Sprint(h.Task.Alive())), h.Task.LiveThreadCount(), h.Task.DeadThreadCount())
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		serveError(w, http.StatusMethodNotAllowed, "snapshot requires POST")
		return
	}

	pb, err := h.Task.Snapshot(time.Now())
	if err != nil {
		serveError(w, http.StatusInternalServerError, err.Error())
		return
	}

	header := w.Header()
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Disposition", `attachment; filename="taskprof.profile"`)
	if err := h.WriteProfile(w, pb); err != nil {
		serveError(w, http.StatusInternalServerError, err.Error())
	}
}

func serveError(w http.ResponseWriter, status int, txt string) {
	header := w.Header()
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Del("Content-Disposition")
	w.WriteHeader(status)
	fmt.Fprintln(w, txt)
}
