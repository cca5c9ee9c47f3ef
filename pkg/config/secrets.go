package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"

	"phasedoc/pkg/utils"
)

// The secrets file is [salt][nonce][AES-256-GCM ciphertext of a JSON object],
// keyed by scrypt over the user's password.
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
)

// ErrWrongPassword is returned when the secrets file does not decrypt.
var ErrWrongPassword = errors.New("decryption failed (wrong password or corrupted file)")

//nolint:gochecknoglobals // provider keys unlocked once per process
var (
	unlocked   map[string]string
	unlockedMu sync.RWMutex
)

// SetDecryptedSecrets makes secrets visible to GetSecret. Pass nil to forget them.
func SetDecryptedSecrets(secrets map[string]string) {
	unlockedMu.Lock()
	defer unlockedMu.Unlock()
	unlocked = secrets
}

// GetSecret returns name from the unlocked secrets file, else from the environment.
func GetSecret(name string) (string, error) {
	unlockedMu.RLock()
	value := unlocked[name]
	unlockedMu.RUnlock()
	if value != "" {
		return value, nil
	}
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SecretsFilePath returns where the encrypted secrets live for projectDir.
func SecretsFilePath(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, secretsFileName)
}

// SecretsFileExists reports whether projectDir has a secrets file.
func SecretsFileExists(projectDir string) bool {
	_, err := os.Stat(SecretsFilePath(projectDir))
	return err == nil
}

// StoreSecret sets name in projectDir's secrets file, creating the file when
// missing. An existing file must decrypt with password.
func StoreSecret(projectDir, password, name, value string) error {
	secrets := map[string]string{}
	if SecretsFileExists(projectDir) {
		var err error
		if secrets, err = DecryptSecretsFile(projectDir, password); err != nil {
			return err
		}
		if secrets == nil {
			secrets = map[string]string{}
		}
	}
	secrets[name] = value
	return EncryptSecretsFile(projectDir, password, secrets)
}

// newGCM derives the file key from password and salt.
func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptSecretsFile replaces projectDir's secrets file with secrets. The file is 0600.
func EncryptSecretsFile(projectDir, password string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer clear(plaintext)

	header := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(header); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(password, header[:saltSize])
	if err != nil {
		return err
	}

	data := gcm.Seal(header, header[saltSize:], plaintext, nil)
	if err := utils.WriteFileAtomic(SecretsFilePath(projectDir), data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads projectDir's secrets file. A file readable by others
// is tightened to 0600 first.
func DecryptSecretsFile(projectDir, password string) (map[string]string, error) {
	path := SecretsFilePath(projectDir)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		logger.Warn("Secrets file has permissions %04o, fixing to 0600", perm)
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize+nonceSize+16 {
		return nil, fmt.Errorf("secrets file %s is too small to be valid", path)
	}

	gcm, err := newGCM(password, data[:saltSize])
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	defer clear(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}
