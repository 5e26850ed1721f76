package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/vortexdb/vortex-gateway/models"
)

// KeyProvider resolves the symmetric key of a tenant. The default provider
// derives keys from a master secret; deployments with an external secrets
// store supply their own implementation.
type KeyProvider interface {
	KeyFor(tenantID string) ([]byte, error)
}

// DerivedKeyProvider derives per-tenant AES-256 keys from a master secret
// via HKDF-SHA256.
type DerivedKeyProvider struct {
	master []byte
}

func NewDerivedKeyProvider(masterSecret string) (*DerivedKeyProvider, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret is required for key derivation")
	}
	return &DerivedKeyProvider{master: []byte(masterSecret)}, nil
}

func (p *DerivedKeyProvider) KeyFor(tenantID string) ([]byte, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	kdf := hkdf.New(sha256.New, p.master, []byte(tenantID), []byte("vortex-tenant-content-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// EncryptionService encrypts tenant content with AES-256-GCM. Ciphertext is
// base64(nonce || sealed). The owner of a tenant decrypts their own content;
// admins decrypt public content only.
type EncryptionService struct {
	provider KeyProvider

	mu       sync.RWMutex
	keyCache map[string][]byte
}

func NewEncryptionService(provider KeyProvider) *EncryptionService {
	return &EncryptionService{
		provider: provider,
		keyCache: make(map[string][]byte),
	}
}

// ShouldEncrypt reports whether a write for this tenant must be encrypted.
func ShouldEncrypt(tenantID string, encryptFlag bool) bool {
	return encryptFlag || (tenantID != "" && tenantID != models.PublicTenant)
}

// EncryptContent seals plaintext under the tenant's key.
func (s *EncryptionService) EncryptContent(tenantID, plaintext string) (string, error) {
	gcm, err := s.aeadFor(tenantID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptContent opens ciphertext produced by EncryptContent.
func (s *EncryptionService) DecryptContent(tenantID, encoded string) (string, error) {
	gcm, err := s.aeadFor(tenantID)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plain), nil
}

// CanDecrypt reports whether the caller is entitled to the tenant's
// plaintext. Admins are deliberately scoped to public content.
func (s *EncryptionService) CanDecrypt(userCtx *UserContext, tenantID string) bool {
	if tenantID == "" || tenantID == models.PublicTenant {
		return true
	}
	if userCtx == nil {
		return false
	}
	if userCtx.IsAdmin() {
		return false
	}
	return userCtx.TenantID == tenantID || userCtx.UserID == tenantID
}

// DecryptPayloadForRead replaces encrypted content with plaintext when the
// caller is entitled; everyone else keeps the ciphertext unchanged.
func (s *EncryptionService) DecryptPayloadForRead(userCtx *UserContext, payload map[string]any) {
	if payload == nil {
		return
	}
	encrypted, _ := payload[models.PayloadContentEncrypted].(bool)
	if !encrypted {
		return
	}

	tenantID, _ := payload[models.PayloadTenantID].(string)
	if !s.CanDecrypt(userCtx, tenantID) {
		return
	}

	ciphertext, _ := payload[models.PayloadContent].(string)
	if ciphertext == "" {
		return
	}

	plain, err := s.DecryptContent(tenantID, ciphertext)
	if err != nil {
		// Leave the ciphertext in place; a torn key is not a reason to
		// fail the whole read.
		return
	}

	payload[models.PayloadContent] = plain
	payload[models.PayloadContentEncrypted] = false
}

func (s *EncryptionService) aeadFor(tenantID string) (cipher.AEAD, error) {
	key, err := s.keyFor(tenantID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	return cipher.NewGCM(block)
}

func (s *EncryptionService) keyFor(tenantID string) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.keyCache[tenantID]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := s.provider.KeyFor(tenantID)
	if err != nil {
		return nil, fmt.Errorf("no key for tenant %s: %w", tenantID, err)
	}

	s.mu.Lock()
	s.keyCache[tenantID] = key
	s.mu.Unlock()
	return key, nil
}
