package simulator

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/aspect-build/teeguest/internal/attestation"
)

// keyring derives every simulated key from one seed.
type keyring struct {
	seed  []byte
	appID string
	root  *ecdsa.PrivateKey
	ca    *x509.Certificate
	caPEM string
	// k256 keys stand in for the KMS root and app key behind GetKey
	// signature chains.
	kmsRoot *ecdsa.PrivateKey
	appKey  *ecdsa.PrivateKey
}

func newKeyring(seed []byte, appID string) (*keyring, error) {
	k := &keyring{seed: seed, appID: appID}

	root, err := k.p256("ca-root")
	if err != nil {
		return nil, err
	}
	k.root = root

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "teeguest simulator root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &root.PublicKey, root)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	k.ca, err = x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse root certificate: %w", err)
	}
	k.caPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	if k.kmsRoot, err = k.secp256k1("kms-root"); err != nil {
		return nil, err
	}
	if k.appKey, err = k.secp256k1("app-key:" + appID); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *keyring) expand(info string, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, k.seed, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes.
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return out
}

// p256 returns a deterministic P-256 key for label. Candidates outside the
// scalar range are skipped with a counter.
func (k *keyring) p256(label string) (*ecdsa.PrivateKey, error) {
	for i := uint32(0); i < 16; i++ {
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], i)
		priv, err := ecdh.P256().NewPrivateKey(k.expand(label+"\x00"+string(ctr[:]), 32))
		if err != nil {
			continue
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("marshal p256 key: %w", err)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse p256 key: %w", err)
		}
		return parsed.(*ecdsa.PrivateKey), nil
	}
	return nil, fmt.Errorf("no valid p256 scalar for %q", label)
}

func (k *keyring) secp256k1(label string) (*ecdsa.PrivateKey, error) {
	for i := uint32(0); i < 16; i++ {
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], i)
		priv, err := crypto.ToECDSA(k.expand(label+"\x00"+string(ctr[:]), 32))
		if err == nil {
			return priv, nil
		}
	}
	return nil, fmt.Errorf("no valid secp256k1 scalar for %q", label)
}

// getKey returns the 32-byte key for path and purpose plus its signature
// chain: the app key's signature over the derived public key, then the KMS
// root's signature over the app key.
func (k *keyring) getKey(path, purpose string) ([]byte, []string, error) {
	derived, err := k.secp256k1("get-key:" + path + "\x00" + purpose)
	if err != nil {
		return nil, nil, err
	}
	msg := crypto.Keccak256([]byte(purpose + ":" + hex.EncodeToString(crypto.CompressPubkey(&derived.PublicKey))))
	appSig, err := crypto.Sign(msg, k.appKey)
	if err != nil {
		return nil, nil, fmt.Errorf("sign derived key: %w", err)
	}
	rootMsg := crypto.Keccak256(append([]byte("dstack-kms-issued:"+k.appID), crypto.CompressPubkey(&k.appKey.PublicKey)...))
	rootSig, err := crypto.Sign(rootMsg, k.kmsRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("sign app key: %w", err)
	}
	return crypto.FromECDSA(derived), []string{hex.EncodeToString(appSig), hex.EncodeToString(rootSig)}, nil
}

// certRequest selects what goes into an issued leaf.
type certRequest struct {
	Subject    string
	AltNames   []string
	ServerAuth bool
	ClientAuth bool
	RATLS      bool
}

// issue signs a leaf for key and returns the PKCS#8 PEM key and the chain,
// leaf first.
func (k *keyring) issue(key *ecdsa.PrivateKey, req certRequest) (string, []string, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", nil, fmt.Errorf("serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: req.Subject},
		DNSNames:     req.AltNames,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyAgreement,
	}
	if req.ServerAuth {
		tmpl.ExtKeyUsage = append(tmpl.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	}
	if req.ClientAuth {
		tmpl.ExtKeyUsage = append(tmpl.ExtKeyUsage, x509.ExtKeyUsageClientAuth)
	}
	if req.RATLS {
		value, err := asn1.Marshal([]byte(k.appID))
		if err != nil {
			return "", nil, fmt.Errorf("app id extension: %w", err)
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{Id: attestation.OIDAppID, Value: value})
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, k.ca, &key.PublicKey, k.root)
	if err != nil {
		return "", nil, fmt.Errorf("issue certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", nil, fmt.Errorf("marshal key: %w", err)
	}
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	leaf := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	return keyPEM, []string{leaf, k.caPEM}, nil
}

// appCert is the certificate reported by Info.
func (k *keyring) appCert() (string, error) {
	key, err := k.p256("app-cert")
	if err != nil {
		return "", err
	}
	_, chain, err := k.issue(key, certRequest{Subject: k.appID, RATLS: true})
	if err != nil {
		return "", err
	}
	return chain[0], nil
}
