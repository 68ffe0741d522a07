package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/testground/feedbench/pkg/feed"
	"github.com/testground/feedbench/pkg/simnet"
)

// ReferenceBody is the body of feed uploads and of feed upload and lookup
// responses.
type ReferenceBody struct {
	Reference string `json:"reference"`
	Index     string `json:"index,omitempty"`
}

// TagResponse is the body of a tag lookup.
type TagResponse struct {
	UID       uint32    `json:"uid"`
	Total     int64     `json:"total"`
	Synced    int64     `json:"synced"`
	StartedAt time.Time `json:"startedAt"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) uploadFeedHandler(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger) {
	owner, topic, ok := feedParams(w, r)
	if !ok {
		return
	}

	var req ReferenceBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ref, err := feed.ParseReference(req.Reference)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, h, err := s.node.Put(r.Context(), owner, topic, r.Header.Get(HeaderPostageBatchID), ref)
	switch {
	case errors.Is(err, simnet.ErrInvalidStamp):
		writeError(w, http.StatusPaymentRequired, err.Error())
		return
	case err != nil:
		log.Warnw("feed upload failed", "owner", owner, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Debugw("feed update stored", "owner", owner, "topic", rec.Topic, "index", rec.Index, "tag", h)
	w.Header().Set(HeaderTag, strconv.FormatUint(uint64(h), 10))
	writeJSON(w, http.StatusCreated, ReferenceBody{Reference: rec.Address, Index: feed.EncodeIndex(rec.Index)})
}

func (s *Server) lookupFeedHandler(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger) {
	owner, topic, ok := feedParams(w, r)
	if !ok {
		return
	}

	rec, err := s.node.Lookup(r.Context(), owner, topic)
	switch {
	case errors.Is(err, simnet.ErrNotFound):
		writeError(w, http.StatusNotFound, "feed update not found")
		return
	case err != nil:
		log.Warnw("feed lookup failed", "owner", owner, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set(HeaderFeedIndex, feed.EncodeIndex(rec.Index))
	w.Header().Set(HeaderFeedIndexNext, feed.EncodeIndex(rec.Index+1))
	writeJSON(w, http.StatusOK, ReferenceBody{Reference: rec.Reference})
}

func (s *Server) tagHandler(w http.ResponseWriter, r *http.Request, _ *zap.SugaredLogger) {
	uid, err := strconv.ParseUint(mux.Vars(r)["uid"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag uid")
		return
	}

	st, err := s.node.Tag(feed.Handle(uid))
	switch {
	case errors.Is(err, simnet.ErrUnknownTag):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, TagResponse{
		UID:       uint32(st.UID),
		Total:     st.Total,
		Synced:    st.Synced,
		StartedAt: st.StartedAt,
	})
}

func (s *Server) replicaHandler(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger) {
	rec := new(simnet.Record)
	if err := json.NewDecoder(r.Body).Decode(rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid replica: "+err.Error())
		return
	}

	if err := s.node.Replicate(r.Context(), rec); err != nil {
		log.Warnw("replica rejected", "owner", rec.Owner, "index", rec.Index, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request, _ *zap.SugaredLogger) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func feedParams(w http.ResponseWriter, r *http.Request) (string, feed.Topic, bool) {
	if typ := r.URL.Query().Get("type"); typ != "" {
		if err := feed.Type(typ).Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return "", feed.Topic{}, false
		}
	}

	vars := mux.Vars(r)
	owner := strings.ToLower(vars["owner"])
	if b, err := hex.DecodeString(owner); err != nil || len(b) != 20 {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return "", feed.Topic{}, false
	}
	topic, err := feed.ParseTopic(vars["topic"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", feed.Topic{}, false
	}
	return owner, topic, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Code: status, Message: msg})
}
