// Package rpc exposes run control over JSON-RPC for programmatic callers.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/service"
)

// Server accepts JSON-RPC connections.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *zap.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the run service.
func NewServer(svc *service.Service, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Runner", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Runner RPC methods.
type Handler struct {
	service *service.Service
}

// RunRequest identifies a run.
type RunRequest struct {
	RunID string `json:"run_id"`
}

// StopResponse is returned after a stop request.
type StopResponse struct {
	RunID   string           `json:"run_id"`
	Status  domain.RunStatus `json:"status"`
	Message string           `json:"message"`
}

// Launch queues a new run.
func (h *Handler) Launch(req *domain.LaunchRequest, resp *domain.LaunchResponse) error {
	if req == nil {
		return errors.New("launch request is required")
	}

	result, err := h.service.LaunchRun(context.Background(), *req)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// Stop ends the active execution of a run.
func (h *Handler) Stop(req *RunRequest, resp *StopResponse) error {
	if req == nil || req.RunID == "" {
		return errors.New("run_id is required")
	}

	run, err := h.service.StopRun(context.Background(), req.RunID)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.RunID = run.RunID
		resp.Status = run.Status
		resp.Message = "run stopped"
	}
	return nil
}

// Get returns a run with its event log.
func (h *Handler) Get(req *RunRequest, resp *domain.Run) error {
	if req == nil || req.RunID == "" {
		return errors.New("run_id is required")
	}

	run, err := h.service.GetRun(context.Background(), req.RunID)
	if err != nil {
		return err
	}
	if resp != nil {
		*resp = *run
	}
	return nil
}
