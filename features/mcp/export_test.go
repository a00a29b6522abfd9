package mcp

import "context"

func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	return h.processRequest(ctx, req)
}
