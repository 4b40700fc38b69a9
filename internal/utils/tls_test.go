package utils

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestGenerateSelfSignedCertificate(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSignedCertificate()
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("unexpected certificate block: %v", block)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if !cert.NotAfter.After(cert.NotBefore) {
		t.Errorf("invalid validity window %v - %v", cert.NotBefore, cert.NotAfter)
	}
	if keyBlock, _ := pem.Decode(keyPEM); keyBlock == nil || keyBlock.Type != "EC PRIVATE KEY" {
		t.Errorf("unexpected key block: %v", keyBlock)
	}

	cfg, err := SelfSignedTLSConfig()
	if err != nil || len(cfg.Certificates) != 1 {
		t.Errorf("SelfSignedTLSConfig() = %v, %v", cfg, err)
	}
}
