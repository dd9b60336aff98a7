// Package grpcexec adapts an external LLM-turn service into the harness's
// executor.TurnExecutor contract over gRPC. It is the harness-domain
// analogue of the teacher's pkg/llm.Client, which dials a provider's gRPC
// endpoint and wraps the call with model/temperature/token configuration.
//
// Unlike the teacher's client, this package does not depend on generated
// protoc-gen-go code: regenerating a .proto file is outside this module's
// build step, and hand-authoring .pb.go-shaped structs would mean
// reverse-engineering codegen output rather than writing idiomatic Go (the
// same reasoning that rules out a hand-authored ent client — see
// DESIGN.md). Instead the wire messages are google.golang.org/protobuf's
// own structpb.Struct, a real, already-compiled proto.Message the
// standard protobuf module ships for exactly this "schema decided at
// runtime" case, and the RPC method is described by a small, literal
// grpc.ServiceDesc — a plain data value grpc-go's own documentation shows
// being hand-constructed for simple unary services, not a generated
// artifact.
package grpcexec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tarsy-labs/agentharness/pkg/executor"
	"github.com/tarsy-labs/agentharness/pkg/harness"
)

const executeTurnMethod = "/agentharness.turnexecutor.v1.TurnExecutor/ExecuteTurn"

// serviceDesc describes the single unary RPC this package speaks. It is
// declared by hand (see package doc) rather than produced by protoc.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "agentharness.turnexecutor.v1.TurnExecutor",
	HandlerType: (*turnServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExecuteTurn",
			Handler:    executeTurnHandler,
		},
	},
}

// turnServer is the server-side contract a backend registers to answer
// ExecuteTurn calls. It mirrors executor.TurnExecutor but over the wire.
type turnServer interface {
	ExecuteTurn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func executeTurnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(turnServer).ExecuteTurn(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeTurnMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(turnServer).ExecuteTurn(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

// Client is an executor.TurnExecutor backed by a remote gRPC turn service.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Dialing (TLS, credentials,
// keepalive) is the caller's concern, the same separation the teacher's
// pkg/llm.Client leaves to its own NewClient wrapper one layer up.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// ExecuteTurn implements executor.TurnExecutor by marshaling run and spec
// into a structpb.Struct request and unmarshaling the response into a
// TurnResult.
func (c *Client) ExecuteTurn(ctx context.Context, run harness.AgentRun, spec harness.AgentSpec) (executor.TurnResult, error) {
	req, err := structpb.NewStruct(map[string]any{
		"run_id":     run.ID,
		"turns_used": float64(run.TurnsUsed),
		"objective":  spec.Objective,
		"task_type":  string(spec.TaskType),
	})
	if err != nil {
		return executor.TurnResult{}, fmt.Errorf("grpcexec: build request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, executeTurnMethod, req, resp); err != nil {
		return executor.TurnResult{}, fmt.Errorf("grpcexec: ExecuteTurn: %w", err)
	}
	return decodeTurnResult(resp), nil
}

func decodeTurnResult(s *structpb.Struct) executor.TurnResult {
	fields := s.GetFields()
	result := executor.TurnResult{
		Done:    fields["done"].GetBoolValue(),
		Message: fields["message"].GetStringValue(),
	}
	if usage := fields["usage"].GetStructValue(); usage != nil {
		result.Usage = executor.Usage{
			InputTokens:  int(usage.GetFields()["input_tokens"].GetNumberValue()),
			OutputTokens: int(usage.GetFields()["output_tokens"].GetNumberValue()),
		}
	}
	for _, call := range fields["tool_calls"].GetListValue().GetValues() {
		cs := call.GetStructValue()
		if cs == nil {
			continue
		}
		args := map[string]any{}
		if a := cs.GetFields()["arguments"].GetStructValue(); a != nil {
			args = a.AsMap()
		}
		result.ToolCalls = append(result.ToolCalls, executor.ToolCall{
			ToolName:  cs.GetFields()["tool_name"].GetStringValue(),
			Arguments: args,
		})
	}
	return result
}
