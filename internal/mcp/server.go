package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Server speaks line-delimited JSON-RPC 2.0 and exposes a ToolRegistry as
// MCP tools.
type Server struct {
	tools   *ToolRegistry
	version string
	in      *bufio.Reader
	out     io.Writer
	log     *zap.Logger

	writeMu  sync.Mutex
	handlers map[string]handlerFunc
}

type handlerFunc func(params json.RawMessage) (any, *rpcError)

// message is a request or notification read from the client. A message
// without an id is a notification and never gets a reply.
type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func NewServer(tools *ToolRegistry, version string, in io.Reader, out io.Writer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		tools:   tools,
		version: version,
		in:      bufio.NewReader(in),
		out:     out,
		log:     log.Named("mcp"),
	}
	s.handlers = map[string]handlerFunc{
		"initialize": s.initialize,
		"ping":       func(json.RawMessage) (any, *rpcError) { return struct{}{}, nil },
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	return s
}

// Run serves messages until the input reaches EOF.
func (s *Server) Run() error {
	for {
		line, err := s.in.ReadBytes('\n')
		if len(line) > 0 {
			s.handle(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (s *Server) handle(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		s.log.Debug("parse message", zap.Error(err))
		s.reply(json.RawMessage("null"), nil, &rpcError{Code: codeParseError, Message: "Parse error", Data: err.Error()})
		return
	}

	notification := len(msg.ID) == 0
	s.log.Debug("message", zap.String("method", msg.Method), zap.Bool("notification", notification))

	h, ok := s.handlers[msg.Method]
	if notification {
		return
	}
	if !ok {
		s.reply(msg.ID, nil, &rpcError{Code: codeMethodNotFound, Message: "Method not found", Data: msg.Method})
		return
	}
	result, rerr := h(msg.Params)
	s.reply(msg.ID, result, rerr)
}

func (s *Server) initialize(json.RawMessage) (any, *rpcError) {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]string{"name": "qrun", "version": s.version},
	}, nil
}

func (s *Server) listTools(json.RawMessage) (any, *rpcError) {
	return map[string]any{"tools": s.tools.List()}, nil
}

func (s *Server) callTool(params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	result, err := s.tools.Call(call.Name, call.Arguments)
	if err != nil {
		s.log.Info("tool failed", zap.String("tool", call.Name), zap.Error(err))
		return CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return result, nil
}

func (s *Server) reply(id json.RawMessage, result any, rerr *rpcError) {
	data, err := json.Marshal(reply{JSONRPC: "2.0", ID: id, Result: result, Error: rerr})
	if err != nil {
		s.log.Error("marshal reply", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(append(data, '\n'))
}
