package csrpc

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coinswapcs/coinswap/statemachine"
)

// envelope is the JSON-RPC 2.0 request frame.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// response is the JSON-RPC 2.0 reply frame.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler implements C's side of the fixed method set (§6). dispatch
// unmarshals each method's params into its own typed struct (rather
// than a generic map), so a malformed message is a ProtocolError at
// that unmarshal site, matching §4.3's "malformed message" validation
// contract. A bool method returning false sends the literal `false`
// result that Client.Call reports as Declined; a pointer method
// returning nil, nil sends a null result, which is not a decline.
type Handler interface {
	Status() (*StatusResult, error)
	Handshake(*HandshakeParams) (*HandshakeResult, error)
	Negotiate(*NegotiateParams) (*NegotiateResult, error)
	Tx0IdHxTx2Sig(*Tx0IdHxTx2SigParams) (*Tx0IdHxTx2SigResult, error)
	SigTx3(*SigTx3Params) (bool, error)
	Phase2Ready(*Phase2ReadyParams) (bool, error)
	Secret(*SecretParams) (*SecretResult, error)
	SigTx4(*SigTx4Params) (bool, error)
	ConfirmTx4(*ConfirmTx4Params) (bool, error)
}

// Server is the HTTP(S) JSON-RPC 2.0 listener on C's side. TLS client
// certificate verification is on by default: per the open question in
// §9's design notes, an attacker controlling an unauthenticated
// transport can at worst force a backout, never steal funds, but
// leaves the swap's privacy degraded to "attacker knows the
// endpoints" — so InsecureSkipVerify requires an explicit opt-in
// rather than being the default.
type Server struct {
	Handler Handler

	// InsecureSkipVerify disables TLS peer verification; callers must
	// set this explicitly (e.g. from a --insecure-skip-verify config
	// flag with a loud warning attached), never implicitly.
	InsecureSkipVerify bool

	// Notify is the optional push-notification Hub serving wsPath on
	// this same listener. Nil disables the stream entirely; every
	// other method still works with no degradation, per §4's "used
	// only for UX, never for protocol correctness".
	Notify *Hub
}

// TLSConfig returns the server-side tls.Config reflecting
// InsecureSkipVerify, for callers wiring their own http.Server.
func (s *Server) TLSConfig() *tls.Config {
	return &tls.Config{
		ClientAuth: clientAuthMode(s.InsecureSkipVerify),
		MinVersion: tls.VersionTLS12,
	}
}

func clientAuthMode(insecure bool) tls.ClientAuthType {
	if insecure {
		return tls.NoClientCert
	}
	return tls.RequireAndVerifyClientCert
}

// ServeHTTP dispatches a single JSON-RPC request to the matching
// Handler method, exhaustively matching on the method name the way
// the redesigned engine exhaustively matches (Method, State) pairs;
// an unrecognized method is itself a ProtocolError.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Notify != nil && r.URL.Path == wsPath {
		s.Notify.ServeWS(w, r)
		return
	}

	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, nil, fmt.Errorf("csrpc: malformed request: %w", err))
		return
	}

	result, err := s.dispatch(env.Method, env.Params)
	if err != nil {
		writeError(w, env.ID, err)
		return
	}
	writeResult(w, env.ID, result)
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case MethodStatus:
		return s.Handler.Status()

	case MethodHandshake:
		var p HandshakeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.Handshake(&p)

	case MethodNegotiate:
		var p NegotiateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.Negotiate(&p)

	case MethodTx0idHxTx2Sig:
		var p Tx0IdHxTx2SigParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.Tx0IdHxTx2Sig(&p)

	case MethodSigTx3:
		var p SigTx3Params
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.SigTx3(&p)

	case MethodPhase2Ready:
		var p Phase2ReadyParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.Phase2Ready(&p)

	case MethodSecret:
		var p SecretParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.Secret(&p)

	case MethodSigTx4:
		var p SigTx4Params
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.SigTx4(&p)

	case MethodConfirmTx4:
		var p ConfirmTx4Params
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protoErr(method, err)
		}
		return s.Handler.ConfirmTx4(&p)

	default:
		return nil, &statemachine.ProtocolError{Reason: "unknown method " + method}
	}
}

func protoErr(method string, cause error) error {
	return fmt.Errorf("csrpc: %s: %w", method, &statemachine.ProtocolError{Reason: cause.Error()})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", Result: result, ID: id})
}

func writeError(w http.ResponseWriter, id json.RawMessage, err error) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{
		JSONRPC: "2.0",
		Error:   &rpcError{Code: -32000, Message: err.Error()},
		ID:      id,
	})
}
