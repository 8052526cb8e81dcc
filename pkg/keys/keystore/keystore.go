// Package keystore persists authority keypairs as password-encrypted files
// using the Web3 Secret Storage format.
package keystore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Layr-Labs/ballast/pkg/keys"
	gethKeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

// ErrInvalidKeystoreFile is returned when a keystore file is not valid or is corrupted
var ErrInvalidKeystoreFile = errors.New("invalid keystore file")

// encryptedKey is the on-disk form of an encrypted authority seed
type encryptedKey struct {
	PublicKey string                  `json:"publicKey"`
	Crypto    gethKeystore.CryptoJSON `json:"crypto"`
	UUID      string                  `json:"uuid"`
	Version   int                     `json:"version"`
}

// Options provides configuration options for keystore operations
type Options struct {
	// ScryptN is the N parameter of scrypt encryption algorithm
	ScryptN int
	// ScryptP is the P parameter of scrypt encryption algorithm
	ScryptP int
}

// Default returns the default options for keystore operations
func Default() *Options {
	return &Options{
		ScryptN: gethKeystore.StandardScryptN,
		ScryptP: gethKeystore.StandardScryptP,
	}
}

// Light returns light options for keystore operations (faster but less secure)
func Light() *Options {
	return &Options{
		ScryptN: gethKeystore.LightScryptN,
		ScryptP: gethKeystore.LightScryptP,
	}
}

// Save writes the keypair's seed to a keystore file encrypted under password.
func Save(keypair *keys.Keypair, filePath, password string, opts *Options) error {
	if opts == nil {
		opts = Default()
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("failed to generate UUID: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	cryptoStruct, err := gethKeystore.EncryptDataV3(
		keypair.Seed(),
		[]byte(password),
		opts.ScryptN,
		opts.ScryptP,
	)
	if err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}

	content, err := json.MarshalIndent(encryptedKey{
		PublicKey: keypair.Identity().String(),
		Crypto:    cryptoStruct,
		UUID:      id.String(),
		Version:   4,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %w", err)
	}

	return nil
}

// Load reads a keystore file and decrypts the keypair with the password. The
// decrypted key must reproduce the public identity stored in the file.
func Load(filePath, password string) (*keys.Keypair, error) {
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	var encrypted encryptedKey
	if err := json.Unmarshal(content, &encrypted); err != nil {
		return nil, fmt.Errorf("failed to parse keystore file: %w", err)
	}

	if encrypted.PublicKey == "" {
		return nil, ErrInvalidKeystoreFile
	}

	seed, err := gethKeystore.DecryptDataV3(encrypted.Crypto, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}

	keypair, err := keys.NewKeypairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create keypair from decrypted data: %w", err)
	}

	if keypair.Identity().String() != encrypted.PublicKey {
		return nil, fmt.Errorf("%w: decrypted key does not match stored public key", ErrInvalidKeystoreFile)
	}

	return keypair, nil
}

// Info retrieves basic info from a keystore file without decrypting.
func Info(filePath string) (map[string]interface{}, error) {
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse keystore file: %w", err)
	}

	if _, ok := data["publicKey"]; !ok {
		return nil, ErrInvalidKeystoreFile
	}

	return data, nil
}

// Verify checks a keystore by decrypting it and signing a test message.
func Verify(filePath, password string) error {
	keypair, err := Load(filePath, password)
	if err != nil {
		return fmt.Errorf("failed to load keystore: %w", err)
	}

	testMessage := []byte("keystore verification message")
	signature, err := keypair.SignMessage(testMessage)
	if err != nil {
		return fmt.Errorf("failed to sign test message: %w", err)
	}

	if !keypair.Verify(testMessage, signature) {
		return fmt.Errorf("keystore verification failed: signature is invalid")
	}

	return nil
}

// GenerateRandomPassword generates a cryptographically secure random password
func GenerateRandomPassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}

	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}|;:,.<>?"
	for i := range bytes {
		bytes[i] = charset[int(bytes[i])%len(charset)]
	}

	return string(bytes), nil
}
