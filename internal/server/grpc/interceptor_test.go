package grpc

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingLogger struct {
	logging.Nop
	warned []string
	debug  []string
}

func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any)  { l.warned = append(l.warned, msg) }
func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...any) { l.debug = append(l.debug, msg) }
func (l *recordingLogger) With(...any) logging.Logger                    { return l }

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	l := &recordingLogger{}
	s := NewHealthServer("", nil, l)

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	resp, err := s.loggingInterceptor(context.Background(), nil, info, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if len(l.debug) != 1 || len(l.warned) != 0 {
		t.Fatalf("want one debug line, got debug=%v warn=%v", l.debug, l.warned)
	}
}

func TestLoggingInterceptor_LogsFailures(t *testing.T) {
	l := &recordingLogger{}
	s := NewHealthServer("", nil, l)

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	}

	_, err := s.loggingInterceptor(context.Background(), nil, info, h)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", status.Code(err))
	}
	if len(l.warned) != 1 {
		t.Fatalf("want one warning, got %v", l.warned)
	}
}
