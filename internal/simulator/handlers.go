package simulator

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/teeguest/internal/dstack"
	"github.com/aspect-build/teeguest/internal/logx"
)

func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

func internalError(c *gin.Context, op string, err error) {
	logx.Errorf("simulator %s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// bind decodes an optional JSON body; an empty body leaves req untouched.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "%v", err)
		return false
	}
	return true
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}

type tcbInfo struct {
	MRTD        string `json:"mrtd"`
	RTMR0       string `json:"rtmr0"`
	RTMR1       string `json:"rtmr1"`
	RTMR2       string `json:"rtmr2"`
	RTMR3       string `json:"rtmr3"`
	ComposeHash string `json:"compose_hash"`
	DeviceID    string `json:"device_id"`
	OSImageHash string `json:"os_image_hash,omitempty"`
	AppCompose  string `json:"app_compose"`
	EventLog    any    `json:"event_log"`
}

// handleInfo serves Info. The legacy path embeds tcb_info as a JSON string.
func (s *Simulator) handleInfo(tcbAsString bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.machine.snapshot()
		tcb := tcbInfo{
			MRTD:        hex.EncodeToString(snap.MRTD),
			RTMR0:       snap.rtmrHex(0),
			RTMR1:       snap.rtmrHex(1),
			RTMR2:       snap.rtmrHex(2),
			RTMR3:       snap.rtmrHex(3),
			ComposeHash: s.composeHash,
			DeviceID:    s.cfg.DeviceID,
			OSImageHash: s.cfg.OSImageHash,
			AppCompose:  s.cfg.AppCompose,
			EventLog:    snap.EventLog,
		}
		if snap.EventLog == nil {
			tcb.EventLog = []any{}
		}

		var tcbField any = tcb
		if tcbAsString {
			b, err := json.Marshal(tcb)
			if err != nil {
				internalError(c, "info", err)
				return
			}
			tcbField = string(b)
		}

		c.JSON(http.StatusOK, gin.H{
			"app_id":            s.cfg.AppID,
			"instance_id":       s.cfg.InstanceID,
			"app_cert":          s.appCert,
			"tcb_info":          tcbField,
			"app_name":          s.cfg.AppName,
			"device_id":         s.cfg.DeviceID,
			"compose_hash":      s.composeHash,
			"os_image_hash":     s.cfg.OSImageHash,
			"key_provider_info": s.cfg.KeyProviderInfo,
		})
	}
}

type getKeyRequest struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

func (s *Simulator) handleGetKey(c *gin.Context) {
	var req getKeyRequest
	if !bind(c, &req) {
		return
	}
	key, chain, err := s.keys.getKey(req.Path, req.Purpose)
	if err != nil {
		internalError(c, "get key", err)
		return
	}
	c.JSON(http.StatusOK, dstack.GetKeyResponse{Key: hex.EncodeToString(key), SignatureChain: chain})
}

type quoteRequest struct {
	ReportData    string `json:"report_data"`
	HashAlgorithm string `json:"hash_algorithm"`
	Prefix        string `json:"prefix"`
}

func (s *Simulator) quote(c *gin.Context, reportData []byte, extra func(*dstack.QuoteResponse)) {
	snap := s.machine.snapshot()
	log, err := snap.eventLogJSON()
	if err != nil {
		internalError(c, "quote", err)
		return
	}
	resp := dstack.QuoteResponse{
		Quote:    hex.EncodeToString(snap.quote(reportData)),
		EventLog: log,
	}
	if extra != nil {
		extra(&resp)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Simulator) handleGetQuote(c *gin.Context) {
	var req quoteRequest
	if !bind(c, &req) {
		return
	}
	rd, err := decodeHex(req.ReportData)
	if err != nil {
		badRequest(c, "report_data must be hex: %v", err)
		return
	}
	if len(rd) > dstack.MaxReportDataLen {
		badRequest(c, "report_data is %d bytes, at most %d allowed", len(rd), dstack.MaxReportDataLen)
		return
	}
	s.quote(c, rd, nil)
}

func (s *Simulator) handleRawQuote(c *gin.Context) {
	var req quoteRequest
	if !bind(c, &req) {
		return
	}
	rd, err := decodeHex(req.ReportData)
	if err != nil {
		badRequest(c, "report_data must be hex: %v", err)
		return
	}
	if len(rd) != dstack.MaxReportDataLen {
		badRequest(c, "report_data must be exactly %d bytes, got %d", dstack.MaxReportDataLen, len(rd))
		return
	}
	s.quote(c, rd, nil)
}

func (s *Simulator) handleTdxQuote(c *gin.Context) {
	var req quoteRequest
	if !bind(c, &req) {
		return
	}
	data, err := decodeHex(req.ReportData)
	if err != nil {
		badRequest(c, "report_data must be hex: %v", err)
		return
	}
	alg, err := dstack.ParseQuoteHashAlgorithm(req.HashAlgorithm)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	prefix := req.Prefix
	if prefix == "" && alg != dstack.HashRaw {
		prefix = dstack.DefaultQuotePrefix
	}
	rd, err := dstack.ReportDataFor(alg, prefix, data)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	s.quote(c, rd, func(r *dstack.QuoteResponse) {
		r.HashAlgorithm = string(alg)
		r.Prefix = prefix
	})
}

type emitEventRequest struct {
	EventName string `json:"event_name"`
	Payload   string `json:"payload"`
}

func (s *Simulator) handleEmitEvent(c *gin.Context) {
	var req emitEventRequest
	if !bind(c, &req) {
		return
	}
	if req.EventName == "" {
		badRequest(c, "event_name is required")
		return
	}
	payload, err := decodeHex(req.Payload)
	if err != nil {
		badRequest(c, "payload must be hex: %v", err)
		return
	}
	e := s.machine.emit(req.EventName, payload)
	logx.Debugf("simulator.emit event=%s digest=%s", e.Event, e.Digest)
	c.Status(http.StatusOK)
}

type tlsKeyRequest struct {
	Subject         string   `json:"subject"`
	AltNames        []string `json:"alt_names"`
	UsageRaTls      bool     `json:"usage_ra_tls"`
	UsageServerAuth bool     `json:"usage_server_auth"`
	UsageClientAuth bool     `json:"usage_client_auth"`
}

func (s *Simulator) handleGetTlsKey(c *gin.Context) {
	var req tlsKeyRequest
	if !bind(c, &req) {
		return
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		internalError(c, "tls key", err)
		return
	}
	keyPEM, chain, err := s.keys.issue(key, certRequest{
		Subject:    req.Subject,
		AltNames:   req.AltNames,
		ServerAuth: req.UsageServerAuth,
		ClientAuth: req.UsageClientAuth,
		RATLS:      req.UsageRaTls,
	})
	if err != nil {
		internalError(c, "tls key", err)
		return
	}
	c.JSON(http.StatusOK, dstack.GetTlsKeyResponse{Key: keyPEM, CertificateChain: chain})
}

type deriveKeyRequest struct {
	Path     string   `json:"path"`
	Subject  string   `json:"subject"`
	AltNames []string `json:"alt_names"`
}

func (s *Simulator) handleDeriveKey(c *gin.Context) {
	var req deriveKeyRequest
	if !bind(c, &req) {
		return
	}
	if req.Subject == "" {
		req.Subject = req.Path
	}
	key, err := s.keys.p256("derive-key:" + req.Path)
	if err != nil {
		internalError(c, "derive key", err)
		return
	}
	keyPEM, chain, err := s.keys.issue(key, certRequest{Subject: req.Subject, AltNames: req.AltNames, RATLS: true})
	if err != nil {
		internalError(c, "derive key", err)
		return
	}
	c.JSON(http.StatusOK, dstack.DeriveKeyResponse{Key: keyPEM, CertificateChain: chain})
}
