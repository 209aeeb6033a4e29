// Package analysistest provides an in-process analysis service for tests.
//
// The server follows the real service's contract: it assigns a "user" session
// cookie on the first analyze call, answers "indifferent" when a frame's
// detections match the previous frame of the same session, and forgets the
// session on refresh. Canned replies can be queued to script other answers.
package analysistest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"
)

// Paths served by the server.
const (
	AnalyzePath = "/api/analyze"
	RefreshPath = "/api/refresh"
)

// SessionCookie is the cookie naming the caller's session.
const SessionCookie = "user"

// Reply is a scripted answer. A non-zero Code makes the server answer with
// that HTTP status and no body.
type Reply struct {
	Code        int
	Status      string
	Detections  string
	Description string
	Time        float64
	Image       []byte // nil echoes the uploaded image
	RawImage    string // overrides Image with a literal base64 string
}

// Request records one analyze call.
type Request struct {
	User        string
	Filename    string
	ContentType string
	Size        int
}

// Server is an httptest-backed analysis service.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	replies   []Reply
	history   map[string]string // user -> last detections
	requests  []Request
	refreshes int
}

// NewServer starts a server. Call Close when done.
func NewServer() *Server {
	s := &Server{history: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc(AnalyzePath, s.handleAnalyze)
	mux.HandleFunc(RefreshPath, s.handleRefresh)
	s.Server = httptest.NewServer(mux)
	return s
}

// AnalyzeURL returns the analyze endpoint URL.
func (s *Server) AnalyzeURL() string { return s.URL + AnalyzePath }

// RefreshURL returns the refresh endpoint URL.
func (s *Server) RefreshURL() string { return s.URL + RefreshPath }

// Enqueue scripts the next replies, consumed in order.
func (s *Server) Enqueue(replies ...Reply) {
	s.mu.Lock()
	s.replies = append(s.replies, replies...)
	s.mu.Unlock()
}

// Requests returns the recorded analyze calls.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Refreshes returns how many refresh calls found a session.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	defer file.Close()
	upload, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		user = c.Value
	} else {
		user = uuid.NewString()
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: user, Path: "/"})
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		User:        user,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        len(upload),
	})
	var reply Reply
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	} else {
		reply = s.analyze(user, upload)
	}
	s.mu.Unlock()

	if reply.Code != 0 {
		w.WriteHeader(reply.Code)
		return
	}

	img := reply.Image
	if img == nil {
		img = upload
	}
	b64 := base64.StdEncoding.EncodeToString(img)
	if reply.RawImage != "" {
		b64 = reply.RawImage
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"image":       b64,
		"status":      reply.Status,
		"detections":  reply.Detections,
		"description": reply.Description,
		"time":        reply.Time,
	})
}

// analyze mimics the real service: the "detection" is the frame geometry,
// and an unchanged detection for the same session is indifferent.
// Caller holds s.mu.
func (s *Server) analyze(user string, upload []byte) Reply {
	detections := "[unknown]"
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(upload)); err == nil {
		detections = fmt.Sprintf("[frame %dx%d]", cfg.Width, cfg.Height)
	}

	prev, seen := s.history[user]
	s.history[user] = detections
	if seen && prev == detections {
		return Reply{Status: "indifferent", Detections: detections, Time: -1}
	}
	return Reply{
		Status:      "success",
		Detections:  detections,
		Description: "A frame " + detections,
		Time:        0.25,
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		json.NewEncoder(w).Encode(map[string]string{"message": "No user cookie found."})
		return
	}

	s.mu.Lock()
	delete(s.history, c.Value)
	s.refreshes++
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	json.NewEncoder(w).Encode(map[string]string{"message": "User cookie deleted."})
}
