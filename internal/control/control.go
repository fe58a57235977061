// Package control implements the HTTP control channel (§6.4): an
// external collaborator that invokes handle_command at runtime to
// clear fault sequences, record log entries, evict clean pages, or
// checkpoint the filesystem.
package control

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/WiscADSL/cuttlefs/internal/logger"
	"github.com/gorilla/mux"
)

// Target is the subset of Filesystem Facade capabilities the control
// channel needs, passed explicitly rather than via a back-reference.
type Target interface {
	AllowAllWrites()
	EvictCleanPages()
	Checkpoint()
}

// Command is one control-channel request, dispatched on Cmd.
type Command struct {
	Cmd string `json:"cmd"`
	Msg string `json:"msg,omitempty"`
}

// Response is returned for every command: either a bare success, or a
// diagnostic string for an unknown or malformed command.
type Response struct {
	Success    bool   `json:"success"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

const (
	CmdAllowAllWrites  = "allow-all-writes"
	CmdInsertLogEntry  = "insert-log-entry"
	CmdEvictCleanPages = "evict-clean-pages"
	CmdCheckpoint      = "checkpoint"
)

// HandleCommand dispatches cmd.Cmd against target, implementing the
// table in §6.4.
func HandleCommand(target Target, cmd Command) Response {
	switch cmd.Cmd {
	case CmdAllowAllWrites:
		target.AllowAllWrites()
		return Response{Success: true}

	case CmdInsertLogEntry:
		if cmd.Msg == "" {
			return Response{Diagnostic: "insert-log-entry requires a non-empty msg field"}
		}
		logger.Infof("%s", cmd.Msg)
		return Response{Success: true}

	case CmdEvictCleanPages:
		target.EvictCleanPages()
		return Response{Success: true}

	case CmdCheckpoint:
		target.Checkpoint()
		return Response{Success: true}

	case "":
		return Response{Diagnostic: "missing cmd field"}

	default:
		return Response{Diagnostic: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

// Server is the gorilla/mux-based HTTP front-end over HandleCommand.
type Server struct {
	target Target
	router *mux.Router
}

// NewServer builds a Server dispatching every POST /command to target.
func NewServer(target Target) *Server {
	s := &Server{target: target, router: mux.NewRouter()}
	s.router.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Response{Diagnostic: fmt.Sprintf("decoding request: %v", err)})
		return
	}

	resp := HandleCommand(s.target, cmd)

	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(resp)
}
