// Package rpc exposes a hosted-channels node's control surface over
// HTTP/JSON: listing channels, forcing a state override, and proposing
// a resize, mirroring the way a TON payment node exposes on-chain and
// virtual channel management over HTTP.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// Service is the subset of ChannelMaster the control API drives.
type Service interface {
	GetChannelByHex(ctx context.Context, chanIDHex string) (*db.Channel, error)
	ListChannels(ctx context.Context, peerPubKeyHex string, status db.ChannelStatus) ([]*db.Channel, error)
	InitiateOverride(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, newLocalBalanceMsat wire.MilliSatoshi) error
	ResizeChannel(ctx context.Context, chanID wire.ChannelID, peerPubKey []byte, newCapacitySat uint64) error
	CloseChannel(ctx context.Context, chanID wire.ChannelID) error
}

type errorBody struct {
	Error string `json:"error"`
}

type successBody struct {
	Success bool `json:"success"`
}

// Server is the hosted-channels node's control HTTP server. Every
// endpoint is guarded by HTTP basic auth when Credentials is non-nil.
type Server struct {
	svc         Service
	credentials *Credentials
	srv         http.Server
}

type Credentials struct {
	Login    string
	Password string
}

func NewServer(addr string, svc Service, credentials *Credentials) *Server {
	s := &Server{svc: svc, credentials: credentials}

	mx := http.NewServeMux()
	mx.HandleFunc("/api/v1/channel/list", s.checkCredentials(s.handleList))
	mx.HandleFunc("/api/v1/channel/get", s.checkCredentials(s.handleGet))
	mx.HandleFunc("/api/v1/channel/override", s.checkCredentials(s.handleOverride))
	mx.HandleFunc("/api/v1/channel/resize", s.checkCredentials(s.handleResize))
	mx.HandleFunc("/api/v1/channel/close", s.checkCredentials(s.handleClose))

	s.srv = http.Server{Addr: addr, Handler: mx}
	return s
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) checkCredentials(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.credentials != nil {
			login, password, ok := r.BasicAuth()
			if !ok || login != s.credentials.Login || password != s.credentials.Password {
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		handler(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := db.StatusAny
	if v := r.URL.Query().Get("status"); v != "" {
		var err error
		status, err = parseStatus(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	channels, err := s.svc.ListChannels(r.Context(), r.URL.Query().Get("peer"), status)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResp(w, channels)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("chan_id")
	if id == "" {
		writeErr(w, http.StatusBadRequest, "chan_id is required")
		return
	}

	ch, err := s.svc.GetChannelByHex(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeResp(w, ch)
}

type overrideRequest struct {
	ChanID              string `json:"chan_id"`
	PeerPubKey          string `json:"peer_pub_key"`
	NewLocalBalanceMsat uint64 `json:"new_local_balance_msat"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chanID, peer, err := parseChanAndPeer(req.ChanID, req.PeerPubKey)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.svc.InitiateOverride(ctx, chanID, peer, wire.MilliSatoshi(req.NewLocalBalanceMsat)); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w)
}

type resizeRequest struct {
	ChanID         string `json:"chan_id"`
	PeerPubKey     string `json:"peer_pub_key"`
	NewCapacitySat uint64 `json:"new_capacity_sat"`
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chanID, peer, err := parseChanAndPeer(req.ChanID, req.PeerPubKey)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.svc.ResizeChannel(ctx, chanID, peer, req.NewCapacitySat); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w)
}

type closeRequest struct {
	ChanID string `json:"chan_id"`
}

// handleClose is the only control-API path that ever deletes a
// channel record.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var chanID wire.ChannelID
	b, err := hex.DecodeString(req.ChanID)
	if err != nil || len(b) != len(chanID) {
		writeErr(w, http.StatusBadRequest, "invalid chan_id")
		return
	}
	copy(chanID[:], b)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.svc.CloseChannel(ctx, chanID); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w)
}

func parseChanAndPeer(chanIDHex, peerHex string) (wire.ChannelID, []byte, error) {
	var chanID wire.ChannelID
	b, err := hex.DecodeString(chanIDHex)
	if err != nil || len(b) != len(chanID) {
		return chanID, nil, fmt.Errorf("invalid chan_id")
	}
	copy(chanID[:], b)

	peer, err := hex.DecodeString(peerHex)
	if err != nil {
		return chanID, nil, fmt.Errorf("invalid peer_pub_key")
	}
	return chanID, peer, nil
}

func parseStatus(v string) (db.ChannelStatus, error) {
	switch v {
	case "offline":
		return db.StatusOffline, nil
	case "opening":
		return db.StatusOpening, nil
	case "active":
		return db.StatusActive, nil
	case "suspended":
		return db.StatusSuspended, nil
	case "overriding":
		return db.StatusOverriding, nil
	default:
		return db.StatusAny, fmt.Errorf("unknown status %q", v)
	}
}

func writeErr(w http.ResponseWriter, code int, text string) {
	data, _ := json.Marshal(errorBody{Error: text})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeResp(w http.ResponseWriter, obj any) {
	data, _ := json.Marshal(obj)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeSuccess(w http.ResponseWriter) {
	writeResp(w, successBody{Success: true})
}
