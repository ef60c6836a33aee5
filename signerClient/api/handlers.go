package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pushchain/push-signer-node/signerClient/store"
	"github.com/pushchain/push-signer-node/signerClient/tss/node"
	"github.com/pushchain/push-signer-node/signerClient/tss/runloop"
)

const (
	defaultRoundsLimit = 50
	maxRoundsLimit     = 1000
	maxBodyBytes       = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

// handleDkg handles POST /api/v1/commands/dkg
func (s *Server) handleDkg(w http.ResponseWriter, r *http.Request) {
	s.submit(w, runloop.DkgCommand{})
}

// handleSign handles POST /api/v1/commands/sign
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	cmd, err := req.command()
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.submit(w, cmd)
}

func (req SignRequest) command() (runloop.SignCommand, error) {
	var message []byte
	switch strings.ToLower(req.Encoding) {
	case "", EncodingUTF8:
		message = []byte(req.Message)
	case EncodingHex:
		b, err := hex.DecodeString(strings.TrimPrefix(req.Message, "0x"))
		if err != nil {
			return runloop.SignCommand{}, fmt.Errorf("message is not valid hex: %v", err)
		}
		message = b
	default:
		return runloop.SignCommand{}, fmt.Errorf("encoding must be %q or %q", EncodingUTF8, EncodingHex)
	}
	if len(message) == 0 {
		return runloop.SignCommand{}, errors.New("message is required")
	}

	cmd := runloop.SignCommand{Message: message, IsTaproot: req.IsTaproot}
	if req.MerkleRoot != "" {
		if !req.IsTaproot {
			return runloop.SignCommand{}, errors.New("merkle_root is only valid with is_taproot")
		}
		root, err := runloop.ParseMerkleRoot(req.MerkleRoot)
		if err != nil {
			return runloop.SignCommand{}, err
		}
		cmd.MerkleRoot = root
	}
	return cmd, nil
}

func (s *Server) submit(w http.ResponseWriter, cmd runloop.Command) {
	if err := s.node.Submit(cmd); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, node.ErrQueueFull) || errors.Is(err, node.ErrRunnerStopped) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to queue %s command: %v", cmd.Kind(), err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommandResponse{Kind: string(cmd.Kind()), Accepted: true})
}

// handleRounds handles GET /api/v1/rounds?status=<status>&limit=<n>
func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(r.URL.Query().Get("status"))
	switch status {
	case "", store.RoundPending, store.RoundInProgress, store.RoundSuccess, store.RoundFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status %q", status)
		return
	}

	limit := defaultRoundsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRoundsLimit)
	}

	rounds, err := s.node.Rounds(status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list rounds")
		writeError(w, http.StatusInternalServerError, "failed to list rounds")
		return
	}

	resp := RoundsResponse{Rounds: make([]RoundView, 0, len(rounds))}
	for _, round := range rounds {
		view := RoundView{
			RoundID:   round.RoundID,
			Kind:      round.Kind,
			Status:    round.Status,
			Attempts:  round.Attempts,
			Error:     round.ErrorMsg,
			CreatedAt: round.CreatedAt,
			UpdatedAt: round.UpdatedAt,
		}
		if json.Valid(round.Result) {
			view.Result = round.Result
		}
		resp.Rounds = append(resp.Rounds, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLedgerEndpoints handles GET /api/v1/ledger/endpoints
func (s *Server) handleLedgerEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LedgerEndpointsResponse{Endpoints: s.node.LedgerEndpoints()})
}
