// Package provision makes sure the device owns a key pair and a stable
// endpoint name before it talks to the update service.
package provision

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base32"
	"encoding/pem"

	"github.com/go-errors/errors"
)

const (
	KeyDeviceKey = "device-key"
	KeyDeviceID  = "device-id"

	defaultKeyBits = 2048
)

var ErrNotProvisioned = errors.New("device is not provisioned")

// standard base32 encoding with lowercase characters
var base32encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

type Store interface {
	Exists(key string) bool
	Get(key string) (string, error)
	Set(key string, value string) error
	Del(key string) error
}

type Options struct {
	// Wipe deletes existing provisioning data first.
	Wipe    bool
	KeyBits int
	Logger  Logger
}

// Identity is the provisioned device identity.
type Identity struct {
	ID  string
	Key *rsa.PrivateKey
}

// Provision loads the device identity, creating it on first start. Every
// failure wraps ErrNotProvisioned.
func Provision(store Store, opts *Options) (*Identity, error) {
	var log Logger = noopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}

	if opts.Wipe {
		log.Warnf("Wiping provisioning data")

		for _, key := range []string{KeyDeviceKey, KeyDeviceID} {
			if !store.Exists(key) {
				continue
			}
			if err := store.Del(key); err != nil {
				return nil, errors.Errorf("could not delete %v: %v: %w", key, err, ErrNotProvisioned)
			}
		}
	}

	key, err := loadOrCreateKey(store, opts.KeyBits, log)
	if err != nil {
		return nil, errors.Errorf("%v: %w", err, ErrNotProvisioned)
	}

	id := computeID(&key.PublicKey)

	if store.Exists(KeyDeviceID) {
		stored, err := store.Get(KeyDeviceID)
		if err != nil {
			return nil, errors.Errorf("could not read device id: %v: %w", err, ErrNotProvisioned)
		}

		if stored != id {
			return nil, errors.Errorf("device id %v does not match key %v: %w", stored, id, ErrNotProvisioned)
		}

		log.Infof("Device %v already provisioned", id)
	} else {
		if err := store.Set(KeyDeviceID, id); err != nil {
			return nil, errors.Errorf("could not store device id: %v: %w", err, ErrNotProvisioned)
		}

		log.Infof("Provisioned device %v", id)
	}

	return &Identity{
		ID:  id,
		Key: key,
	}, nil
}

func loadOrCreateKey(store Store, bits int, log Logger) (*rsa.PrivateKey, error) {
	if store.Exists(KeyDeviceKey) {
		data, err := store.Get(KeyDeviceKey)
		if err != nil {
			return nil, errors.Errorf("could not read device key: %v", err)
		}

		return decodeKey(data)
	}

	if bits <= 0 {
		bits = defaultKeyBits
	}

	log.Infof("Generating %d bit device key", bits)

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Errorf("could not generate device key: %v", err)
	}

	if err := store.Set(KeyDeviceKey, encodeKey(key)); err != nil {
		return nil, errors.Errorf("could not store device key: %v", err)
	}

	return key, nil
}

func encodeKey(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func decodeKey(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, errors.New("stored device key is not a PEM encoded RSA key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Errorf("could not parse device key: %v", err)
	}

	return key, nil
}

// computeID derives the 16 character endpoint name from the first 80 bits of
// the SHA1 of the DER encoded public key.
func computeID(key *rsa.PublicKey) string {
	derbytes, _ := asn1.Marshal(*key)

	hash := sha1.New()
	hash.Write(derbytes)
	sum := hash.Sum(nil)[:10]

	var buf32 bytes.Buffer
	b32enc := base32.NewEncoder(base32encoding, &buf32)
	_, _ = b32enc.Write(sum)
	_ = b32enc.Close()

	return buf32.String()
}
