package credstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	fileSaltSize  = 32
	fileNonceSize = 24
	fileKeySize   = 32
)

var errCorruptCredentialFile = errors.New("corrupt credential file")

// FileStore is the restart-surviving store for single-user installs. The
// record is sealed with a secretbox key derived from the passphrase via
// scrypt, and writes go through a temp file plus rename so a crash mid-save
// never leaves a torn record behind.
type FileStore struct {
	path       string
	passphrase []byte
}

func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{path: path, passphrase: []byte(passphrase)}
}

func (s *FileStore) Load(ctx context.Context) (*Credentials, error) {
	blob, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if len(blob) < fileSaltSize+fileNonceSize+secretbox.Overhead {
		return nil, errCorruptCredentialFile
	}

	var salt [fileSaltSize]byte
	copy(salt[:], blob[:fileSaltSize])
	var nonce [fileNonceSize]byte
	copy(nonce[:], blob[fileSaltSize:fileSaltSize+fileNonceSize])
	key, err := s.deriveKey(salt[:])
	if err != nil {
		return nil, err
	}

	plain, ok := secretbox.Open(nil, blob[fileSaltSize+fileNonceSize:], &nonce, key)
	if !ok {
		return nil, errCorruptCredentialFile
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	creds = creds.Normalized()
	return &creds, nil
}

func (s *FileStore) Save(ctx context.Context, creds *Credentials) error {
	normalized := creds.Normalized()
	plain, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	var salt [fileSaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	var nonce [fileNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	key, err := s.deriveKey(salt[:])
	if err != nil {
		return err
	}

	blob := make([]byte, 0, fileSaltSize+fileNonceSize+len(plain)+secretbox.Overhead)
	blob = append(blob, salt[:]...)
	blob = append(blob, nonce[:]...)
	blob = secretbox.Seal(blob, plain, &nonce, key)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *FileStore) deriveKey(salt []byte) (*[fileKeySize]byte, error) {
	raw, err := scrypt.Key(s.passphrase, salt, 1<<15, 8, 1, fileKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [fileKeySize]byte
	copy(key[:], raw)
	return &key, nil
}
