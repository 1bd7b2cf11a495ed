// Package simulator is a software stand-in for the in-guest attestation
// daemon. It serves the current agent and legacy tappd RPC paths from one
// gin engine, keeps measurement registers in memory, and issues unsigned
// TDX-shaped quotes that carry the live registers.
package simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aspect-build/teeguest/internal/eventlog"
	"github.com/aspect-build/teeguest/internal/logx"
)

// Simulator owns the registers, keys and identity of one simulated guest.
type Simulator struct {
	cfg         Config
	keys        *keyring
	machine     *machine
	appCert     string
	composeHash string
}

// New builds a simulator and replays its boot events.
func New(cfg Config) (*Simulator, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	seed := cfg.SeedBytes()
	if cfg.AppID == "" {
		sum := sha256.Sum256(append(append([]byte(nil), seed...), "app-id"...))
		cfg.AppID = hex.EncodeToString(sum[:20])
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	keys, err := newKeyring(seed, cfg.AppID)
	if err != nil {
		return nil, fmt.Errorf("init keys: %w", err)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = hex.EncodeToString(keys.expand("device-id", 32))
	}
	appCert, err := keys.appCert()
	if err != nil {
		return nil, fmt.Errorf("issue app certificate: %w", err)
	}
	compose := sha256.Sum256([]byte(cfg.AppCompose))

	s := &Simulator{
		cfg:         cfg,
		keys:        keys,
		machine:     newMachine(keys.expand("mrtd", 48)),
		appCert:     appCert,
		composeHash: hex.EncodeToString(compose[:]),
	}
	s.boot()
	return s, nil
}

func (s *Simulator) boot() {
	if len(s.cfg.BootEvents) > 0 {
		for _, ev := range s.cfg.BootEvents {
			if ev.IMR == eventlog.RuntimeIMR {
				s.machine.emit(ev.Name, []byte(ev.Payload))
				continue
			}
			typ := ev.EventType
			if typ == 0 {
				typ = evIPL
			}
			s.machine.measure(ev.IMR, typ, ev.Name, []byte(ev.Payload))
		}
		return
	}

	s.machine.measure(0, evEFIPlatformFirmwareBlob, "td-firmware", s.keys.expand("firmware", 32))
	s.machine.measure(1, evEFIBootServicesApp, "kernel", s.keys.expand("kernel", 32))
	s.machine.measure(2, evIPL, "kernel-cmdline", []byte("console=ttyS0 ro"))
	s.machine.emit("system-preparing", nil)
	s.machine.emit("app-id", []byte(s.cfg.AppID))
	s.machine.emit("compose-hash", []byte(s.composeHash))
	s.machine.emit("instance-id", []byte(s.cfg.InstanceID))
	s.machine.emit("boot-mr-done", nil)
}

// AppID is the simulated application identity.
func (s *Simulator) AppID() string { return s.cfg.AppID }

// RootCertPEM is the certificate every issued leaf chains to.
func (s *Simulator) RootCertPEM() string { return s.keys.caPEM }

// Handler returns the gin engine serving both RPC flavors.
func (s *Simulator) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLog())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.POST("/Info", s.handleInfo(false))
	r.POST("/GetKey", s.handleGetKey)
	r.POST("/GetQuote", s.handleGetQuote)
	r.POST("/EmitEvent", s.handleEmitEvent)
	r.POST("/GetTlsKey", s.handleGetTlsKey)

	tappd := r.Group("/prpc")
	{
		tappd.POST("/Tappd.Info", s.handleInfo(true))
		tappd.POST("/Tappd.DeriveKey", s.handleDeriveKey)
		tappd.POST("/Tappd.RawQuote", s.handleRawQuote)
		tappd.POST("/Tappd.TdxQuote", s.handleTdxQuote)
	}
	return r
}

// Listen opens addr as a Unix socket when it looks like a path and as TCP
// otherwise. A stale socket file is removed first.
func Listen(addr string) (net.Listener, error) {
	if isSocketPath(addr) {
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", addr, err)
		}
		return net.Listen("unix", addr)
	}
	return net.Listen("tcp", addr)
}

func isSocketPath(addr string) bool {
	return strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "./") || strings.HasSuffix(addr, ".sock")
}

// Serve handles requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-errCh
		logx.Infof("simulator stopped")
		return nil
	}
}
