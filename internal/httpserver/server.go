// Package httpserver runs the gateway's listeners.
package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	certificateLifetime    = 365 * 24 * time.Hour
)

type Options struct {
	Addr string
	// TLSAddr enables an HTTPS listener with a generated self-signed
	// certificate when set.
	TLSAddr         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	log     *logrus.Entry
	handler http.Handler
	opts    Options
}

func New(logger *logrus.Logger, handler http.Handler, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		log:     logger.WithField("component", "http_server"),
		handler: handler,
		opts:    opts,
	}
}

// Run serves until ctx is cancelled and then shuts every listener down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpListener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}

	var tlsListener net.Listener
	if s.opts.TLSAddr != "" {
		cert, err := generateSelfSignedCert()
		if err != nil {
			httpListener.Close()
			return fmt.Errorf("generating self-signed certificate: %w", err)
		}
		tlsListener, err = tls.Listen("tcp", s.opts.TLSAddr, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		if err != nil {
			httpListener.Close()
			return fmt.Errorf("listening on %s: %w", s.opts.TLSAddr, err)
		}
	}

	return s.Serve(ctx, httpListener, tlsListener)
}

// Serve is Run on listeners the caller already opened. tlsListener may be
// nil.
func (s *Server) Serve(ctx context.Context, httpListener, tlsListener net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	listeners := map[string]net.Listener{"http": httpListener}
	if tlsListener != nil {
		listeners["https"] = tlsListener
	}

	for scheme, l := range listeners {
		srv := &http.Server{
			Handler:      s.handler,
			ReadTimeout:  s.opts.ReadTimeout,
			WriteTimeout: s.opts.WriteTimeout,
		}
		log := s.log.WithFields(logrus.Fields{"scheme": scheme, "addr": l.Addr().String()})

		g.Go(func() error {
			log.Info("Starting server")
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Server failed")
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Server shutdown error")
				return err
			}
			log.Info("Server stopped")
			return nil
		})
	}

	return g.Wait()
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Gridgate"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(certificateLifetime),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return tls.X509KeyPair(certPEM, keyPEM)
}
