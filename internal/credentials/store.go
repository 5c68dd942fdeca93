package credentials

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"deployx/internal/logger"
)

const (
	keyFilename  = "key"
	credFilename = "credentials.enc"

	saltSize = 16
	keySize  = 32
)

// Store persists per-platform credentials encrypted at rest in the
// user's deployx directory. The key file material is read once and
// held only in a memguard enclave for the process lifetime.
type Store struct {
	dir     string
	key     *memguard.Enclave
	refresh Refresher
	log     *logrus.Entry
	mu      sync.Mutex
}

// DefaultDir is the per-user credential directory, outside any project.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".deployx"), nil
}

// Open loads (or generates) the key file and prepares the store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	keyPath := filepath.Join(dir, keyFilename)
	material, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		material = make([]byte, keySize)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("generate key material: %w", err)
		}
		if err := os.WriteFile(keyPath, material, 0600); err != nil {
			return nil, fmt.Errorf("write key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	// NewEnclave wipes the source slice after sealing.
	enclave := memguard.NewEnclave(material)

	return &Store{
		dir: dir,
		key: enclave,
		log: logger.WithModule("credentials"),
	}, nil
}

// SetRefresher installs the oauth refresh hook used by Get on expired
// oauth-pair credentials.
func (s *Store) SetRefresher(r Refresher) {
	s.refresh = r
}

// Put stores or replaces the credential for cred.Platform.
func (s *Store) Put(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	if cred.AcquiredAt.IsZero() {
		cred.AcquiredAt = time.Now().UTC()
	}
	all[cred.Platform] = cred
	if err := s.writeAll(all); err != nil {
		return err
	}
	s.log.WithField("credential", cred.Describe()).Debug("credential stored")
	return nil
}

// Get returns the credential for the platform, or nil when absent.
// An expired oauth-pair triggers one refresh attempt; refresh failure
// returns absent so the resolver re-acquires, it never errors out.
func (s *Store) Get(ctx context.Context, platform string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	cred, ok := all[platform]
	if !ok {
		return nil, nil
	}

	if cred.Expired(time.Now()) {
		if cred.Kind != KindOAuthPair || s.refresh == nil {
			return nil, nil
		}
		refreshed, err := s.refresh(ctx, cred)
		if err != nil {
			s.log.WithField("platform", platform).Warn("credential refresh failed, treating as absent")
			return nil, nil
		}
		all[platform] = refreshed
		if err := s.writeAll(all); err != nil {
			return nil, err
		}
		cred = refreshed
	}
	return &cred, nil
}

// Clear removes the stored credential for the platform. Clearing an
// absent credential is not an error.
func (s *Store) Clear(platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := all[platform]; !ok {
		return nil
	}
	delete(all, platform)
	return s.writeAll(all)
}

func (s *Store) credPath() string {
	return filepath.Join(s.dir, credFilename)
}

func (s *Store) readAll() (map[string]Credential, error) {
	data, err := os.ReadFile(s.credPath())
	if os.IsNotExist(err) {
		return map[string]Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("credential file truncated")
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := data[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential file: %w", err)
	}

	var all map[string]Credential
	if err := json.Unmarshal(plain, &all); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return all, nil
}

func (s *Store) writeAll(all map[string]Credential) error {
	plain, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := s.aead(salt)
	if err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	// Write via temp file then rename so a crash cannot leave a
	// half-written credential file.
	tmp, err := os.CreateTemp(s.dir, "credentials-*")
	if err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close credential file: %w", err)
	}
	return os.Rename(tmp.Name(), s.credPath())
}

// aead derives the file key from the enclave-held material and salt.
// The locked buffer is destroyed as soon as derivation is done.
func (s *Store) aead(salt []byte) (aeadCipher, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	key, err := scrypt.Key(buf.Bytes(), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}
