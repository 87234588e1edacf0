package provisioner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File names inside the credentials directory.
const (
	certificateFile = "certificate.pem"
	privateKeyFile  = "private.key"
	metadataFile    = "metadata.json"
)

// ErrNoCredentials is returned by Load when nothing has been stored yet.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials are the outcome of a successful provisioning handshake.
type Credentials struct {
	CertificateID       string         `json:"certificateId"`
	CertificatePEM      string         `json:"-"`
	PrivateKeyPEM       string         `json:"-"`
	ThingName           string         `json:"thingName"`
	TemplateName        string         `json:"templateName"`
	DeviceConfiguration map[string]any `json:"deviceConfiguration,omitempty"`
	ProvisionedAt       time.Time      `json:"provisionedAt"`
}

// Store persists credentials.
type Store interface {
	Save(creds *Credentials) error
	Load() (*Credentials, error)
}

// FileStore keeps credentials as PEM files plus JSON metadata in one directory.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory holding the credentials.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes the credentials. Metadata is written last so that Load never
// sees metadata without the files it describes.
func (s *FileStore) Save(creds *Credentials) error {
	if creds == nil || creds.CertificatePEM == "" {
		return errors.New("incomplete credentials")
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}

	meta, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileAtomic(filepath.Join(s.dir, certificateFile), []byte(creds.CertificatePEM), 0o644); err != nil {
		return err
	}
	// The key is absent when the CSR was supplied from outside. A key left by
	// an earlier run does not belong to the new certificate.
	keyPath := filepath.Join(s.dir, privateKeyFile)
	if creds.PrivateKeyPEM != "" {
		if err := writeFileAtomic(keyPath, []byte(creds.PrivateKeyPEM), 0o600); err != nil {
			return err
		}
	} else if err := os.Remove(keyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale private key: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, metadataFile), meta, 0o644)
}

// Load reads previously saved credentials.
func (s *FileStore) Load() (*Credentials, error) {
	meta, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	creds := &Credentials{}
	if err := json.Unmarshal(meta, creds); err != nil {
		return nil, fmt.Errorf("corrupt credentials metadata: %w", err)
	}

	cert, err := os.ReadFile(filepath.Join(s.dir, certificateFile))
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(filepath.Join(s.dir, privateKeyFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	creds.CertificatePEM = string(cert)
	creds.PrivateKeyPEM = string(key)

	return creds, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
