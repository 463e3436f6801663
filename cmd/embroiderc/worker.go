package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/Turbo87/embroider/compiler"
)

// workerRequest is one unit of work: a single line of JSON on stdin.
type workerRequest struct {
	ID         int    `json:"id"`
	Op         string `json:"op"` // precompile, compile, transform
	ModuleName string `json:"moduleName"`
	Contents   string `json:"contents"`
}

type workerResponse struct {
	ID           int                           `json:"id"`
	Output       string                        `json:"output,omitempty"`
	Dependencies []compiler.ResolvedDependency `json:"dependencies,omitempty"`
	Error        string                        `json:"error,omitempty"`
}

// handleWorkerCommand reconstructs a compilation core from a portable
// configuration fragment and serves compile requests over stdio, one
// JSON object per line. The worker pays the bundle extraction cost once
// and keeps the core alive across requests.
func handleWorkerCommand(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: embroiderc worker <portable-config>")
		os.Exit(1)
	}

	fragment, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading portable config: %v\n", err)
		os.Exit(1)
	}
	configPath, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	core, err := compiler.FromPortable(fragment, filepath.Dir(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reconstructing core: %v\n", err)
		os.Exit(1)
	}

	log := commonlog.GetLogger("embroider.worker")
	session := uuid.NewString()
	log.Infof("worker %s ready (parallel safe: %v)", session, core.ParallelSafe())

	if err := serveRequests(core, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error serving requests: %v\n", err)
		os.Exit(1)
	}
	log.Infof("worker %s done", session)
}

// serveRequests reads JSON-line requests from in and writes one response
// per request to out. A write failure aborts the loop: a worker whose
// responses no longer reach the primary process is useless.
func serveRequests(core *compiler.Core, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp workerResponse
		var req workerRequest
		if err := json.Unmarshal(line, &req); err != nil {
			resp = workerResponse{Error: fmt.Sprintf("malformed request: %v", err)}
		} else {
			resp = serveRequest(core, req)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

func serveRequest(core *compiler.Core, req workerRequest) workerResponse {
	resp := workerResponse{ID: req.ID}
	switch req.Op {
	case "precompile":
		pre, err := core.Precompile(req.ModuleName, req.Contents)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Output = pre.Compiled
		resp.Dependencies = pre.Dependencies
	case "compile":
		out, err := core.Compile(req.ModuleName, req.Contents)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Output = out
	case "transform":
		out, err := core.ApplyTransforms(req.ModuleName, req.Contents)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Output = out
	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
	}
	return resp
}
