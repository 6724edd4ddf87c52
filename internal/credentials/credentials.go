// Package credentials reads named secrets from the host keystore into locked
// memory. Secrets are read on demand and must be destroyed by the caller as
// soon as the request that needs them has been dispatched.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// Well-known secret names.
const (
	AquariusPassword = "aquarius-password"
	WarehouseDSN     = "warehouse-dsn"
)

// ErrNotFound is returned when the keystore has no secret of that name.
var ErrNotFound = errors.New("credential not found")

// Secret is a scoped holder for one credential. The zero value is unusable.
type Secret struct {
	buf *memguard.LockedBuffer
}

// NewSecret moves b into locked memory and wipes b.
func NewSecret(b []byte) *Secret {
	return &Secret{buf: memguard.NewBufferFromBytes(b)}
}

// String returns a copy of the secret. Callers should keep the copy only for
// the lifetime of the request it is placed in.
func (s *Secret) String() string {
	if s == nil || s.buf == nil || !s.buf.IsAlive() {
		return ""
	}
	return s.buf.String()
}

// Bytes returns the locked bytes without copying.
func (s *Secret) Bytes() []byte {
	if s == nil || s.buf == nil || !s.buf.IsAlive() {
		return nil
	}
	return s.buf.Bytes()
}

// Destroy wipes the secret. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
}

// Keystore is the read-only host credential store.
type Keystore interface {
	Secret(name string) (*Secret, error)
}

// EnvKeystore reads secrets from HYDRO_SECRET_<NAME> environment variables,
// where NAME is the upper-cased secret name with dashes replaced by underscores.
type EnvKeystore struct {
	Prefix string
}

// NewEnvKeystore returns a keystore using the default HYDRO_SECRET_ prefix.
func NewEnvKeystore() *EnvKeystore {
	return &EnvKeystore{Prefix: "HYDRO_SECRET_"}
}

// EnvName returns the environment variable consulted for name.
func (k *EnvKeystore) EnvName(name string) string {
	return k.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (k *EnvKeystore) Secret(name string) (*Secret, error) {
	v, ok := os.LookupEnv(k.EnvName(name))
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return NewSecret([]byte(v)), nil
}

// StaticKeystore serves fixed secrets; used by tests and one-shot CLI runs.
type StaticKeystore map[string]string

func (k StaticKeystore) Secret(name string) (*Secret, error) {
	v, ok := k[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return NewSecret([]byte(v)), nil
}

// Purge wipes all locked buffers. Call once on shutdown.
func Purge() {
	memguard.Purge()
}
