package gateway

import "errors"

// ErrGatewayAuth covers failures obtaining or parsing a gateway credential.
var ErrGatewayAuth = errors.New("gateway authentication failed")

// ErrGatewayRequest covers failed create/execute/status calls against the
// gateway. Callers treat it as retriable via the gateway's own redirect flow.
var ErrGatewayRequest = errors.New("gateway request failed")
